package main

import (
	"github.com/labstack/gommon/color"

	"github.com/transponster/bot/internal/app/bot"
)

func main() {
	printBanner()
	bot.Execute()
}

var (
	version string
)

func printBanner() {
	banner := `
  __                                                  __
 / /__________ _____  _________  ____  ____  _____/ /____  _____
/ __/ ___/ __ ` + "`" + `/ __ \/ ___/ __ \/ __ \/ __ \/ ___/ __/ _ \/ ___/
/ /_/ /  / /_/ / / / (__  ) /_/ / /_/ / / / (__  ) /_/  __/ /
\__/_/   \__,_/_/ /_/____/ .___/\____/_/ /_/____/\__/\___/_/ v: %s
                        /_/
%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("github.com/transponster/bot"))
}
