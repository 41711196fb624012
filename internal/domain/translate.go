package domain

import "strings"

type translation struct {
	jp string
	en string
}

// prefectureTranslations is ordered; substring matching walks it front to
// back and the first hit wins.
var prefectureTranslations = []translation{
	{"北海道", "Hokkaido"},
	{"青森県", "Aomori"}, {"岩手県", "Iwate"}, {"宮城県", "Miyagi"}, {"秋田県", "Akita"}, {"山形県", "Yamagata"}, {"福島県", "Fukushima"},
	{"東京都", "Tokyo"}, {"神奈川県", "Kanagawa"}, {"千葉県", "Chiba"}, {"埼玉県", "Saitama"}, {"茨城県", "Ibaraki"}, {"栃木県", "Tochigi"}, {"群馬県", "Gunma"},
	{"新潟県", "Niigata"}, {"富山県", "Toyama"}, {"石川県", "Ishikawa"}, {"福井県", "Fukui"}, {"山梨県", "Yamanashi"}, {"長野県", "Nagano"}, {"岐阜県", "Gifu"}, {"静岡県", "Shizuoka"}, {"愛知県", "Aichi"},
	{"京都府", "Kyoto"}, {"大阪府", "Osaka"}, {"兵庫県", "Hyogo"}, {"奈良県", "Nara"}, {"和歌山県", "Wakayama"}, {"滋賀県", "Shiga"}, {"三重県", "Mie"},
	{"鳥取県", "Tottori"}, {"島根県", "Shimane"}, {"岡山県", "Okayama"}, {"広島県", "Hiroshima"}, {"山口県", "Yamaguchi"},
	{"徳島県", "Tokushima"}, {"香川県", "Kagawa"}, {"愛媛県", "Ehime"}, {"高知県", "Kochi"},
	{"福岡県", "Fukuoka"}, {"佐賀県", "Saga"}, {"長崎県", "Nagasaki"}, {"熊本県", "Kumamoto"}, {"大分県", "Oita"}, {"宮崎県", "Miyazaki"}, {"鹿児島県", "Kagoshima"}, {"沖縄県", "Okinawa"},
}

var prefectureByName = func() map[string]string {
	m := make(map[string]string, len(prefectureTranslations))
	for _, t := range prefectureTranslations {
		m[t.jp] = t.en
	}
	return m
}()

// TranslatePrefecture returns the English name for an exact prefecture match.
func TranslatePrefecture(jp string) (string, bool) {
	en, ok := prefectureByName[jp]
	return en, ok
}

// TransliterateName translates a free-text place name in two phases: an
// exact prefecture match, then the first table entry whose Japanese name is a
// substring, replaced in place ("石川県能登地方" -> "Ishikawa能登地方").
// The second return value is false when nothing matched.
func TransliterateName(name string) (string, bool) {
	if en, ok := prefectureByName[name]; ok {
		return en, true
	}
	for _, t := range prefectureTranslations {
		if strings.Contains(name, t.jp) {
			return strings.Replace(name, t.jp, t.en, 1), true
		}
	}
	return name, false
}

// EnglishAreas translates raw area names, falls back to the raw name when no
// translation exists, and returns the deduplicated names sorted alphabetically.
func EnglishAreas(areas []string) []string {
	names := make([]string, 0, len(areas))
	for _, a := range areas {
		if en, ok := TranslatePrefecture(a); ok {
			a = en
		}
		names = append(names, a)
	}
	return dedupeSorted(names)
}
