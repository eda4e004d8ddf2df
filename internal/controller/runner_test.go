package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visualqa/internal/crawl"
	"visualqa/internal/manifest"
)

func TestPlanFromManifest(t *testing.T) {
	r := &Runner{}
	site := manifest.Case{
		Key:    "acme",
		URL:    "acme.com",
		Prompt: "rebuild it",
		Pages:  []string{"/", "pricing", "/about/team"},
	}

	plan, err := r.planFromManifest(site)
	require.NoError(t, err)
	assert.Equal(t, "acme.com", plan.Domain)
	require.Len(t, plan.Pages, 3)

	assert.Equal(t, "https://acme.com/", plan.Pages[0].URL)
	assert.Equal(t, "home", plan.Pages[0].Slug)
	assert.Equal(t, "home", plan.Pages[0].Intent)

	assert.Equal(t, "https://acme.com/pricing", plan.Pages[1].URL)
	assert.Equal(t, "pricing", plan.Pages[1].Intent)

	assert.Equal(t, "https://acme.com/about/team", plan.Pages[2].URL)
	assert.Equal(t, "about", plan.Pages[2].Intent)
}

func TestBuildPrompt(t *testing.T) {
	site := manifest.Case{Key: "acme", Prompt: "A logistics SaaS landing site."}
	plan := &crawl.SitePlan{
		Domain: "acme.com",
		Pages: []crawl.PagePlan{
			{Slug: "home", Intent: "home", Brief: "# Acme\nShip faster."},
			{Slug: "pricing", Intent: "pricing"},
		},
	}

	prompt := buildPrompt(site, plan)
	assert.Contains(t, prompt, "A logistics SaaS landing site.")
	assert.Contains(t, prompt, "acme.com")
	assert.Contains(t, prompt, "## Page home (home)")
	assert.Contains(t, prompt, "Ship faster.")
	assert.Contains(t, prompt, "## Page pricing (pricing)")
}
