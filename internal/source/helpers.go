package source

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-rod/rod"
)

// nodeFinder 同时覆盖 *rod.Page 和 *rod.Element 的非阻塞查找。
type nodeFinder interface {
	Has(selector string) (bool, *rod.Element, error)
}

var (
	spaceRe  = regexp.MustCompile(`\s+`)
	numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
)

// NormalizeText 清理文本：替换不换行空格、折叠空白、去首尾空格。
func NormalizeText(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := strings.ReplaceAll(raw, " ", " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(cleaned, " "))
}

// NormalizeNumber 从含货币符号和千位分隔符的文本中提取整数。
//
// 找不到数字时返回 0（站点把价格藏在属性里的广告直接跳过）。
func NormalizeNumber(raw string) int {
	if raw == "" {
		return 0
	}
	cleaned := strings.ReplaceAll(raw, " ", "")
	var sb strings.Builder
	for _, r := range cleaned {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			sb.WriteRune(r)
		}
	}
	candidate := strings.ReplaceAll(sb.String(), ",", ".")
	match := numberRe.FindString(candidate)
	if match == "" {
		return 0
	}
	if dot := strings.Index(match, "."); dot >= 0 {
		match = match[:dot]
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0
	}
	return n
}

// textOf 返回选择器命中元素的规范化文本，元素不存在返回空串。
func textOf(n nodeFinder, selector string) string {
	has, el, err := n.Has(selector)
	if err != nil || !has {
		return ""
	}
	txt, err := el.Text()
	if err != nil {
		return ""
	}
	return NormalizeText(txt)
}

// numberOf 返回选择器命中元素文本中的整数，元素不存在返回 0。
func numberOf(n nodeFinder, selector string) int {
	return NormalizeNumber(textOf(n, selector))
}

// attrOf 返回选择器命中元素的属性值，元素或属性不存在返回空串。
func attrOf(n nodeFinder, selector, attr string) string {
	has, el, err := n.Has(selector)
	if err != nil || !has {
		return ""
	}
	val, err := el.Attribute(attr)
	if err != nil || val == nil {
		return ""
	}
	return *val
}

// hasNode 返回选择器是否命中任何元素。
func hasNode(n nodeFinder, selector string) bool {
	has, _, err := n.Has(selector)
	return err == nil && has
}

// selfAttr 返回元素自身的属性值。
func selfAttr(el *rod.Element, attr string) string {
	val, err := el.Attribute(attr)
	if err != nil || val == nil {
		return ""
	}
	return *val
}

// externalIDFromURL 从详情页链接中提取广告 ID。
//
// 两个站点的链接都以 "-<id>.html" 结尾。
func externalIDFromURL(raw string) string {
	parts := strings.Split(raw, "-")
	if len(parts) == 0 {
		return ""
	}
	last := parts[len(parts)-1]
	return strings.SplitN(last, ".", 2)[0]
}

// resolveURL 将相对链接解析为绝对地址。
func resolveURL(href, base string) string {
	if href == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}

// parseDateParts 把 "2026-04-15" 或 "2026-04" 之类的日期拆为年月日，缺失部分为 0。
func parseDateParts(raw string) (year, month, day int) {
	fields := strings.Split(NormalizeText(raw), "-")
	if len(fields) > 0 {
		year = NormalizeNumber(fields[0])
	}
	if len(fields) > 1 {
		month = NormalizeNumber(fields[1])
	}
	if len(fields) > 2 {
		day = NormalizeNumber(fields[2])
	}
	return year, month, day
}
