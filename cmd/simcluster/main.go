package main

import (
	"os"

	"horse.fit/simcluster/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
