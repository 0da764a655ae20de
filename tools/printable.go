package tools

import "unicode"

type printableType interface {
	~string | ~[]byte
}

// IsPrintable returns v with every non printable character removed, used to keep
// control bytes such as CRLF out of log lines
func IsPrintable[T printableType](v T) string {
	var result []rune
	for _, r := range string(v) {
		if unicode.IsPrint(r) {
			result = append(result, r)
		}
	}
	return string(result)
}
