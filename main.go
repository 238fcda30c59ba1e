// Command mylist imports mylists into monthly playlist sinks.
package main

import (
	"github.com/JakeFAU/mylist-importer/cmd"
)

func main() {
	cmd.Execute()
}
