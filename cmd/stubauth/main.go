package main

import (
	"log"

	"github.com/quizwell/authbridge/internal/stubauth"
)

func main() {
	cfg := stubauth.LoadConfig()

	application, err := stubauth.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
