package notify

import (
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Summary is the content of a sync notification.
type Summary struct {
	Community       string
	ImportDate      string
	RemoteTotal     int64
	SourceRecords   int
	InsertedDebtors int64
	ExecutedAt      time.Time
}

// counts use English digit grouping: 12,345
var printer = message.NewPrinter(language.English)

// FormatSummary renders the subscriber message for a completed sync.
func FormatSummary(s Summary) string {
	var b strings.Builder
	b.WriteString("✅ Реєстр боржників оновлено\n")
	printer.Fprintf(&b, "Громада: %s\n", s.Community)
	printer.Fprintf(&b, "Дата імпорту: %s\n", s.ImportDate)
	printer.Fprintf(&b, "Записів у віддаленій базі: %d\n", s.RemoteTotal)
	printer.Fprintf(&b, "Отримано записів: %d\n", s.SourceRecords)
	printer.Fprintf(&b, "Завантажено боржників: %d\n", s.InsertedDebtors)
	printer.Fprintf(&b, "Виконано: %s\n", s.ExecutedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	return b.String()
}
