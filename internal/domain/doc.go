// Package domain models Japanese earthquake reports and the rules that decide
// who gets alerted about them.
//
// # Data Source
//
// Reports come from the P2PQuake JSON API (https://www.p2pquake.net/develop/json_api_v2/),
// history endpoint filtered to code 551 ("earthquake information"). The feed is
// polled, returns the most recent reports first, and may repeat a report across
// polls or even within a single response.
//
// # P2PQuake Conventions
//
// Time format:
//
//	"2006/01/02 15:04:05.000" in Japan Standard Time (UTC+9), no zone suffix.
//	The fractional part is optional. Unparsable values are kept verbatim
//	(see [OccurredAt]).
//
// Seismic intensity (Shindo) is reported as an integer code in maxScale:
//
//	10 = 1, 20 = 2, 30 = 3, 40 = 4,
//	45 = 5-Lower, 50 = 5-Upper, 55 = 6-Lower, 60 = 6-Upper, 70 = 7.
//	-1 means the intensity is not yet known.
//
//	Messages show the intensity as code/10 with one decimal place ("4.5")
//	followed by the canonical label from the table above ("Shindo 5-Lower"),
//	so the numeric form never stands in for the official class on its own.
//
// Unknown values:
//
//	Hypocenter magnitude and depth use -1 for "unknown". Depth 0 means
//	"very shallow" and is a real value. Latitude and longitude use -200 for
//	"unknown"; anything outside [-90,90] / [-180,180] is dropped.
//
// Affected areas:
//
//	The points list carries one entry per observation station with a
//	"pref" field holding the prefecture in Japanese (e.g. "東京都"). The same
//	prefecture repeats once per station. Region targeting and the English
//	area list both work from these raw names.
//
// # Targeting
//
// Each report is classified into a [Tier] against two thresholds. Global-tier
// reports go to every subscriber; Local-tier reports go to subscribers whose
// regions intersect the regions containing an affected prefecture; Ignore-tier
// reports go to nobody but are still remembered in the [Ledger] so they are
// not re-examined on the next poll.
package domain
