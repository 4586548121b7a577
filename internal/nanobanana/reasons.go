package nanobanana

import (
	"fmt"

	"golang.org/x/text/language"
)

// Failure messages ship in Chinese first to match the upstream service's
// audience, with English as the fallback translation.
var supportedLocales = []language.Tag{
	language.Chinese,
	language.English,
}

var localeNames = []string{"zh", "en"}

var localeMatcher = language.NewMatcher(supportedLocales)

var reasonMessages = map[string]map[string]string{
	"zh": {
		"output_moderation": "违反使用政策（生成内容）",
		"input_moderation":  "违反使用政策（输入内容）",
		"error":             "其他错误",
	},
	"en": {
		"output_moderation": "usage policy violation (generated content)",
		"input_moderation":  "usage policy violation (input content)",
		"error":             "other error",
	},
}

// NormalizeLocale maps an arbitrary locale string onto a supported message
// locale, defaulting to Chinese.
func NormalizeLocale(locale string) string {
	if locale == "" {
		return "zh"
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return "zh"
	}
	_, idx, _ := localeMatcher.Match(tag)
	return localeNames[idx]
}

// FailureMessage renders a human-readable message for a failed task. Known
// failure_reason codes map through a fixed table; unmapped codes fall back to
// a generic "reason: <code>" line, and a free-text error detail is appended
// verbatim when present.
func FailureMessage(reason, detail, locale string) string {
	loc := NormalizeLocale(locale)
	var msg string
	if mapped, ok := reasonMessages[loc][reason]; ok {
		msg = mapped
	} else if reason != "" {
		if loc == "zh" {
			msg = fmt.Sprintf("原因: %s", reason)
		} else {
			msg = fmt.Sprintf("reason: %s", reason)
		}
	} else {
		if loc == "zh" {
			msg = "原因未知"
		} else {
			msg = "reason unknown"
		}
	}
	if detail != "" {
		if loc == "zh" {
			msg += fmt.Sprintf("\n详情: %s", detail)
		} else {
			msg += fmt.Sprintf("\ndetail: %s", detail)
		}
	}
	return msg
}

func incompleteStreamMessage(locale string) string {
	if NormalizeLocale(locale) == "zh" {
		return "未收到有效结果"
	}
	return "no valid result received"
}

func unknownStatusMessage(status, locale string) string {
	if NormalizeLocale(locale) == "zh" {
		return fmt.Sprintf("任务未完成或状态未知: %s", status)
	}
	return fmt.Sprintf("task incomplete or unknown status: %s", status)
}
