package filesystem

import (
	"fmt"
	"strings"
	"time"
)

// ListLine renders one entry in the `ls -l` style most FTP clients parse:
// permissions, number of links, owner, group, size, modification time, name
func ListLine(entry Entry) string {
	mode := "-rw-r--r--"
	var size int64
	switch e := entry.(type) {
	case Directory:
		mode = "drwxr-xr-x"
	case File:
		size = e.Size()
	}
	return fmt.Sprintf("%s %d %s %s %12d %s %s",
		mode, 1, "owner", "group", size,
		entry.ModTime().Format(time.Stamp), entry.Name())
}

// List renders entries as CRLF separated listing lines.
// The last line carries no terminator, the data channel frames it in ASCII mode.
func List(entries []Entry) string {
	lines := make([]string, len(entries))
	for i, entry := range entries {
		lines[i] = ListLine(entry)
	}
	return strings.Join(lines, "\r\n")
}

// NameList renders the entry names as CRLF separated lines (NLST)
func NameList(entries []Entry) string {
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name()
	}
	return strings.Join(names, "\r\n")
}
