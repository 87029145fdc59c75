package queue

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContacts(t *testing.T) {
	in := "\ufeffName, Email ,Company\n" +
		"Ada,ada@example.com,Analytical\n" +
		"\n" +
		",,\n" +
		"Grace,grace@example.com\n"

	f, err := ParseContacts(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "Email", "Company"}, f.Columns)
	assert.Equal(t, "Email", f.EmailColumn)
	require.Len(t, f.Contacts, 2)

	assert.Equal(t, 1, f.Contacts[0].Row)
	assert.Equal(t, "ada@example.com", f.Contacts[0].Email)
	assert.Equal(t, "Analytical", f.Contacts[0].Variables["Company"])
	assert.Equal(t, "ada@example.com", f.Contacts[0].Variables["email"], "email is always bound under its canonical name")

	assert.Equal(t, 2, f.Contacts[1].Row, "blank lines do not consume positions")
	assert.Equal(t, "", f.Contacts[1].Variables["Company"], "short rows bind missing columns to empty")
	assert.True(t, f.HasColumn("Company"))
	assert.False(t, f.HasColumn("company"))
}

func TestParseContacts_Errors(t *testing.T) {
	_, err := ParseContacts(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyContactFile)

	_, err = ParseContacts(strings.NewReader("name,phone\nAda,555\n"))
	assert.ErrorIs(t, err, ErrMissingEmailColumn)
}

func TestParseContacts_HeaderAliases(t *testing.T) {
	for _, h := range []string{"email", "E-Mail", "email_address", "Recipient"} {
		f, err := ParseContacts(strings.NewReader(h + "\nx@example.com\n"))
		require.NoError(t, err, h)
		assert.Equal(t, "x@example.com", f.Contacts[0].Email, h)
	}
}

func TestValidAddress(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"ada@example.com", true},
		{"first.last+tag@sub.example.co.uk", true},
		{"", false},
		{"not-an-email", false},
		{"ada@localhost", false},
		{"Ada <ada@example.com>", false},
		{"ada@example.", false},
		{"ada@.example.com", false},
		{strings.Repeat("a", 250) + "@example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidAddress(tt.in))
		})
	}
}
