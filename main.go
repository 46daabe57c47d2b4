package main

import "presensi/cmd"

func main() {
	cmd.Execute()
}
