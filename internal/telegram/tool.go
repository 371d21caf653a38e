package telegram

import "regexp"

// escapeMarkdownV2 escapes the characters Telegram's MarkdownV2 parser
// treats as markup.
func escapeMarkdownV2(input string) string {
	specialChars := []struct {
		char   string
		escape string
	}{
		{"\\", "\\\\"},
		{"*", "\\*"},
		{"_", "\\_"},
		{"`", "\\`"},
		{"{", "\\{"},
		{"}", "\\}"},
		{"[", "\\["},
		{"]", "\\]"},
		{"(", "\\("},
		{")", "\\)"},
		{"~", "\\~"},
		{">", "\\>"},
		{"#", "\\#"},
		{"+", "\\+"},
		{"-", "\\-"},
		{"=", "\\="},
		{"|", "\\|"},
		{".", "\\."},
	}

	for _, sc := range specialChars {
		re := regexp.MustCompile(regexp.QuoteMeta(sc.char))
		input = re.ReplaceAllString(input, sc.escape)
	}

	return input
}
