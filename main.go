// The main package for the catalog-crawler executable.
package main

import (
	"github.com/JakeFAU/catalog-crawler/cmd"
)

func main() {
	cmd.Execute()
}
