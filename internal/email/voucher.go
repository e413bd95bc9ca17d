package email

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
)

// VoucherCodeLength is the number of base32 characters in a voucher
// code (50 bits of entropy).
const VoucherCodeLength = 10

// NewVoucherCode returns a single-use voucher code from crypto/rand.
func NewVoucherCode() (string, error) {
	b := make([]byte, 7)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)[:VoucherCodeLength], nil
}

// AppendVoucher adds the voucher line to an email body.
func AppendVoucher(body, amount, code string) string {
	return fmt.Sprintf("%s\n\nThe %s voucher code is %s", body, amount, code)
}
