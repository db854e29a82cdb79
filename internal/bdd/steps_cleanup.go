package bdd

import (
	"context"

	"github.com/chirino/resume-chat/internal/plugin/assistant/local"
	registryscorecache "github.com/chirino/resume-chat/internal/registry/scorecache"
	"github.com/chirino/resume-chat/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
			if s.Suite.DB != nil {
				if err := s.Suite.DB.ClearAll(ctx); err != nil {
					return ctx, err
				}
			}
			if assistant, ok := s.Suite.Extra["assistant"].(*local.LocalAssistant); ok {
				assistant.Reset()
			}
			if cache, ok := s.Suite.Extra["scoreCache"].(registryscorecache.ScoreCache); ok && cache != nil {
				return ctx, cache.Clear(ctx)
			}
			return ctx, nil
		})
	})
}
