// Command hashpw prints an argon2id hash for OPERATOR_PASSWORD_HASH.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	httpserver "github.com/fairyhunter13/print-mes/internal/adapter/httpserver"
)

func main() {
	password := flag.String("password", "", "password to hash; read from stdin when empty")
	flag.Parse()

	pw := *password
	if pw == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(os.Stderr, "read password:", err)
			os.Exit(1)
		}
		pw = strings.TrimRight(line, "\r\n")
	}
	if pw == "" {
		fmt.Fprintln(os.Stderr, "empty password")
		os.Exit(2)
	}
	hash, err := httpserver.HashPassword(pw, httpserver.DefaultArgon2Params)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hash:", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
