package main

import "github.com/sciforge/stackbuild/cmd/stackbuild/internal"

func main() {
	internal.Execute()
}
