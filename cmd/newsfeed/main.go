package main

import (
	"os"

	_ "golang.org/x/crypto/x509roots/fallback" // корневые сертификаты для scratch-контейнеров

	"newsfeed/internal/logger"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logger.Log.Fatal(err)
	}
}
