package main

import "github.com/MeKo-Tech/qrcascade/cmd/qrcascade/cmd"

func main() {
	cmd.Execute()
}
