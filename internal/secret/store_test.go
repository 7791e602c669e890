package secret_test

import (
	"testing"

	"catdb/internal/secret"

	"github.com/stretchr/testify/assert"
)

func TestRotate13_RoundTrip(t *testing.T) {
	cases := []string{
		"password",
		"P4ssw0rd!",
		"",
		"ABCNOPabcnop",
		"unicode-héllo-密码",
	}
	for _, in := range cases {
		out := secret.Rotate13(in)
		assert.Equal(t, in, secret.Rotate13(out), "rot13 must be self-inverse for %q", in)
	}
}

func TestRotate13_OnlyLettersRotate(t *testing.T) {
	assert.Equal(t, "nop", secret.Rotate13("abc"))
	assert.Equal(t, "NOP", secret.Rotate13("ABC"))
	assert.Equal(t, "123-_!", secret.Rotate13("123-_!"))
	assert.Equal(t, "héllo", secret.Rotate13("uéyyb"), "non-ASCII runes pass through unchanged")
}
