/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/ssargent/bulkline/cmd/bulkline/cmd"

func main() {
	cmd.Execute()
}
