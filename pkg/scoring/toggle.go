package scoring

import "strings"

// ToggleDetector recognises text pairs that name opposite states of the same
// control ("Follow"/"Following", "关注"/"已关注"). Such pairs contain each
// other as substrings but must not count as a text match.
type ToggleDetector struct {
	pairs map[string]map[string]bool
}

var defaultTogglePairs = [][2]string{
	{"follow", "following"},
	{"follow", "followed"},
	{"follow", "unfollow"},
	{"follow", "follow back"},
	{"like", "liked"},
	{"like", "unlike"},
	{"subscribe", "subscribed"},
	{"subscribe", "unsubscribe"},
	{"join", "joined"},
	{"add", "added"},
	{"save", "saved"},
	{"connect", "connected"},
	{"关注", "已关注"},
	{"关注", "取消关注"},
	{"关注", "回关"},
	{"关注", "互相关注"},
	{"点赞", "已点赞"},
	{"点赞", "取消点赞"},
	{"赞", "已赞"},
	{"收藏", "已收藏"},
	{"收藏", "取消收藏"},
	{"订阅", "已订阅"},
	{"订阅", "取消订阅"},
	{"加入", "已加入"},
}

// NewToggleDetector builds a detector with the built-in pairs plus extra.
func NewToggleDetector(extra ...[2]string) *ToggleDetector {
	d := &ToggleDetector{pairs: make(map[string]map[string]bool)}
	for _, p := range defaultTogglePairs {
		d.Add(p[0], p[1])
	}
	for _, p := range extra {
		d.Add(p[0], p[1])
	}
	return d
}

// Add registers a pair in both directions.
func (d *ToggleDetector) Add(a, b string) {
	a, b = compact(a), compact(b)
	if a == "" || b == "" || a == b {
		return
	}
	if d.pairs[a] == nil {
		d.pairs[a] = make(map[string]bool)
	}
	if d.pairs[b] == nil {
		d.pairs[b] = make(map[string]bool)
	}
	d.pairs[a][b] = true
	d.pairs[b][a] = true
}

// IsToggle reports whether a and b are opposite states of one control.
func (d *ToggleDetector) IsToggle(a, b string) bool {
	a, b = compact(a), compact(b)
	if a == "" || b == "" || a == b {
		return false
	}
	if d.pairs[a][b] {
		return true
	}
	return genericToggle(a, b) || genericToggle(b, a)
}

// genericToggle checks prefix/suffix state markers: 已X, 取消X, unX, Xed, Xing.
func genericToggle(base, other string) bool {
	if rest, ok := strings.CutPrefix(other, "已"); ok && rest == base {
		return true
	}
	if rest, ok := strings.CutPrefix(other, "取消"); ok && rest == base {
		return true
	}
	if !isLatin(base) || len(base) < 3 {
		return false
	}
	if rest, ok := strings.CutPrefix(other, "un"); ok && rest == base {
		return true
	}
	for _, suffix := range []string{"ed", "d", "ing"} {
		if rest, ok := strings.CutSuffix(other, suffix); ok && rest == base {
			return true
		}
	}
	return false
}

func isLatin(s string) bool {
	for _, r := range s {
		if r > 0x024F {
			return false
		}
	}
	return true
}
