package util

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var idrPrinter = message.NewPrinter(language.Indonesian)

// FormatRupiah renders a whole-unit amount as "Rp 100.000"
func FormatRupiah(amount int64) string {
	return idrPrinter.Sprintf("Rp %d", amount)
}
