// opsctl готовит секреты для конфигурации сервера:
//
//	opsctl hash-token <token>   bcrypt-хеш для OPS_TOKEN_HASH
//	opsctl seal-key <api-key>   зашифрованный api_key для таблицы instances (нужен ENCRYPTION_KEY)
package main

import (
	"flag"
	"fmt"
	"os"

	"tradeexec/pkg/crypto"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: opsctl hash-token <token> | seal-key <api-key>")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	out, err := run(flag.Arg(0), flag.Arg(1), os.Getenv("ENCRYPTION_KEY"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "opsctl: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
}

func run(cmd, value, encryptionKey string) (string, error) {
	switch cmd {
	case "hash-token":
		return crypto.HashToken(value)
	case "seal-key":
		c, err := crypto.NewCipher([]byte(encryptionKey))
		if err != nil {
			return "", fmt.Errorf("ENCRYPTION_KEY: %w", err)
		}
		return c.Seal(value)
	default:
		return "", fmt.Errorf("unknown command %q", cmd)
	}
}
