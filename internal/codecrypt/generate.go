package codecrypt

import (
	"crypto/rand"
	"fmt"
)

const (
	// DefaultCodeLength — длина генерируемых кодов.
	DefaultCodeLength = 16

	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// Наибольшее кратное длине алфавита значение байта; всё выше отбрасывается,
	// чтобы распределение символов оставалось равномерным.
	rejectThreshold = 256 - 256%len(codeAlphabet)
)

// GenerateCode возвращает случайный код из [A-Z0-9] заданной длины.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= rejectThreshold {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// GenerateCodes возвращает n уникальных кодов.
func GenerateCodes(n, length int) ([]string, error) {
	seen := make(map[string]struct{}, n)
	codes := make([]string, 0, n)
	for len(codes) < n {
		code, err := GenerateCode(length)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}
