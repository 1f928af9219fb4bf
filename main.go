package main

import (
	_ "time/tzdata" // Asia/Taipei on hosts without a zoneinfo database

	"github.com/brensch/vdparquet/cmd"
)

func main() {
	cmd.Execute()
}
