package domain

import "sort"

// RegionGroup is a named cluster of prefectures used for subscriber targeting.
type RegionGroup struct {
	Name        string
	MemberAreas []string
}

// DefaultRegionGroups maps the eight traditional regions of Japan to their
// prefectures, keyed by the Japanese names the feed reports.
var DefaultRegionGroups = []RegionGroup{
	{Name: "Hokkaido", MemberAreas: []string{"北海道"}},
	{Name: "Tohoku", MemberAreas: []string{"青森県", "岩手県", "宮城県", "秋田県", "山形県", "福島県"}},
	{Name: "Kanto", MemberAreas: []string{"東京都", "神奈川県", "千葉県", "埼玉県", "茨城県", "栃木県", "群馬県"}},
	{Name: "Chubu", MemberAreas: []string{"新潟県", "富山県", "石川県", "福井県", "山梨県", "長野県", "岐阜県", "静岡県", "愛知県"}},
	{Name: "Kansai", MemberAreas: []string{"京都府", "大阪府", "兵庫県", "奈良県", "和歌山県", "滋賀県", "三重県"}},
	{Name: "Chugoku", MemberAreas: []string{"鳥取県", "島根県", "岡山県", "広島県", "山口県"}},
	{Name: "Shikoku", MemberAreas: []string{"徳島県", "香川県", "愛媛県", "高知県"}},
	{Name: "Kyushu", MemberAreas: []string{"福岡県", "佐賀県", "長崎県", "熊本県", "大分県", "宮崎県", "鹿児島県", "沖縄県"}},
}

// RegionIndex answers which region groups contain a set of raw area names.
// It is built once and read concurrently without locking.
type RegionIndex struct {
	groupsByArea map[string][]string
	names        []string
}

// NewRegionIndex builds an index over groups. An area listed by several
// groups maps to all of them.
func NewRegionIndex(groups []RegionGroup) *RegionIndex {
	idx := &RegionIndex{groupsByArea: make(map[string][]string)}
	for _, g := range groups {
		idx.names = append(idx.names, g.Name)
		for _, area := range g.MemberAreas {
			if containsString(idx.groupsByArea[area], g.Name) {
				continue
			}
			idx.groupsByArea[area] = append(idx.groupsByArea[area], g.Name)
		}
	}
	return idx
}

// RegionsFor returns the sorted set of region groups containing any of the
// given areas. Matching is exact; unknown names are ignored.
func (idx *RegionIndex) RegionsFor(areas []string) []string {
	seen := make(map[string]struct{})
	for _, area := range areas {
		for _, g := range idx.groupsByArea[area] {
			seen[g] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Names lists the configured region groups in configuration order.
func (idx *RegionIndex) Names() []string {
	return append([]string(nil), idx.names...)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
