package main

import "github.com/stirandas/nfd-visualizations/internal/cli"

func main() {
	cli.Execute()
}
