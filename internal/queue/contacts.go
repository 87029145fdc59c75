package queue

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"
)

var (
	// ErrEmptyContactFile is returned when the upload has no header row.
	ErrEmptyContactFile = errors.New("contact file is empty")
	// ErrMissingEmailColumn is returned when no header names an address column.
	ErrMissingEmailColumn = errors.New("contact file has no email column")
)

// emailHeaders are the header names accepted for the address column.
var emailHeaders = []string{"email", "email_address", "e-mail", "emailaddress", "mail", "recipient"}

// Contact is one data row of an uploaded contact file.
type Contact struct {
	Row       int
	Email     string
	Variables map[string]string
}

// ContactFile is a parsed upload: header columns plus rows in file order.
type ContactFile struct {
	Columns     []string
	EmailColumn string
	Contacts    []Contact
}

// HasColumn reports whether name is one of the file's columns.
func (f *ContactFile) HasColumn(name string) bool {
	for _, c := range f.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// ParseContacts reads a CSV contact file with a header row. Every column is
// exposed as a template variable named after its header; the address is
// also bound as "email". Short rows bind missing cells as "".
func ParseContacts(r io.Reader) (*ContactFile, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyContactFile
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	file := &ContactFile{}
	emailIdx := -1
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		header[i] = h
		if h == "" {
			continue
		}
		file.Columns = append(file.Columns, h)
		if emailIdx < 0 && isEmailHeader(h) {
			emailIdx = i
			file.EmailColumn = h
		}
	}
	if emailIdx < 0 {
		return nil, ErrMissingEmailColumn
	}

	row := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row+1, err)
		}
		if isBlank(rec) {
			continue
		}
		row++

		vars := make(map[string]string, len(header)+1)
		for i, h := range header {
			if h == "" {
				continue
			}
			if i < len(rec) {
				vars[h] = strings.TrimSpace(rec[i])
			} else {
				vars[h] = ""
			}
		}
		email := vars[header[emailIdx]]
		vars["email"] = email
		file.Contacts = append(file.Contacts, Contact{Row: row, Email: email, Variables: vars})
	}
	return file, nil
}

func isEmailHeader(h string) bool {
	h = strings.ToLower(h)
	for _, alias := range emailHeaders {
		if h == alias {
			return true
		}
	}
	return false
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ValidAddress applies basic format validation: a bare RFC 5322 addr-spec
// whose domain has at least one dot.
func ValidAddress(s string) bool {
	if s == "" || len(s) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	domain := s[at+1:]
	return strings.Contains(domain, ".") &&
		!strings.HasPrefix(domain, ".") &&
		!strings.HasSuffix(domain, ".")
}
