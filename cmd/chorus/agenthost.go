package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chorusrt/chorus/internal/agentprocess"
	_ "github.com/chorusrt/chorus/internal/builtin"
)

func runAgentHost(_ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return agentprocess.RunFromEnv(ctx)
}
