package scoring

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Normalize folds width, applies NFKC, case-folds and collapses whitespace.
// Full-width punctuation (，：) becomes its ASCII form.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = width.Fold.String(s)
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// compact is Normalize with all whitespace removed.
func compact(s string) string {
	return strings.Join(strings.Fields(Normalize(s)), "")
}

// descriptionSeparators end the semantic core of an accessibility description.
const descriptionSeparators = ",;|、"

// roleWords are accessibility role or state suffixes that carry no identity.
var roleWords = []string{
	"button", "link", "tab", "image", "checkbox", "switch", "toggle", "heading",
	"menu", "selected", "not selected", "double tap to activate", "double-tap to activate",
	"按钮", "链接", "标签", "图片", "图像", "复选框", "开关", "标题", "菜单",
	"已选中", "未选中", "选项卡", "双击激活", "双击即可激活",
}

// DescriptionCore returns the identifying part of a content description:
// trailing "<separator> <role word>" segments are cut off and surrounding
// punctuation is stripped. "关注，按钮" and "Follow, button" reduce to
// "关注" and "follow".
func DescriptionCore(desc string) string {
	s := Normalize(desc)
	for {
		i := strings.LastIndexAny(s, descriptionSeparators)
		if i < 0 {
			break
		}
		tail := strings.TrimSpace(s[i+1:])
		if !isRoleWord(tail) {
			break
		}
		s = strings.TrimSpace(s[:i])
	}
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
	})
}

func isRoleWord(s string) bool {
	s = strings.TrimFunc(s, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSpace(r) })
	if s == "" {
		return true
	}
	for _, w := range roleWords {
		if s == w {
			return true
		}
	}
	return false
}

// containsEither reports whether a contains b or b contains a. Both must be
// non-empty.
func containsEither(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// IdentifierEqual compares resource ids, tolerating a missing package
// prefix on either side ("follow" vs "com.app:id/follow").
func IdentifierEqual(a, b string) bool {
	if a == b {
		return true
	}
	return idName(a) == idName(b) && (!strings.Contains(a, ":id/") || !strings.Contains(b, ":id/"))
}

func idName(id string) string {
	if i := strings.Index(id, ":id/"); i >= 0 {
		return id[i+4:]
	}
	return id
}
