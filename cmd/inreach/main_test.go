package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"inreach/internal/campaign"
	"inreach/internal/config"
	"inreach/internal/queue"
	"inreach/internal/quota"
	"inreach/internal/store"
	"inreach/internal/types"
	"inreach/internal/workflow"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCommand(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(&out)
	return cmd, &out
}

func TestApplyRunFlags_OnlyExplicitFlags(t *testing.T) {
	cmd := &cobra.Command{}
	var f runFlags
	bindRunFlags(cmd, &f)
	require.NoError(t, cmd.ParseFlags([]string{"--store", "prospects.db", "--headless=false", "-n", "3"}))

	c := config.DefaultConfig()
	c.Account.Cookie = "from-env"
	applyRunFlags(cmd, c, f)

	assert.Equal(t, "prospects.db", c.Store.Path)
	assert.False(t, c.Browser.Headless)
	assert.Equal(t, "from-env", c.Account.Cookie, "unset flags leave config alone")
	assert.Equal(t, config.DefaultMessage, c.Workflow.Message)
	assert.Equal(t, 3, f.limit)
	assert.Equal(t, config.ModeConnect, c.GetMode())
}

func TestApplyRunFlags_DirectMessaging(t *testing.T) {
	cmd := &cobra.Command{}
	var f runFlags
	bindRunFlags(cmd, &f)
	require.NoError(t, cmd.ParseFlags([]string{"--mode", "both", "--resume", "https://example.com/cv.pdf", "--email", "me@example.com"}))

	c := config.DefaultConfig()
	applyRunFlags(cmd, c, f)

	assert.Equal(t, config.ModeBoth, c.GetMode())
	assert.Equal(t, "https://example.com/cv.pdf", c.Workflow.Resume)
	assert.Equal(t, "me@example.com", c.Account.Email)
	require.NoError(t, c.Validate())
}

func TestNewTrackers_FollowsMode(t *testing.T) {
	dir := t.TempDir()
	c := config.DefaultConfig()
	c.Quota.Path = filepath.Join(dir, "quota.json")
	c.Quota.MessagePath = filepath.Join(dir, "quota-messages.json")

	connects, messages := newTrackers(c, nil)
	assert.NotNil(t, connects)
	assert.Nil(t, messages, "connect mode never messages")

	c.Workflow.Mode = config.ModeMessage
	connects, messages = newTrackers(c, nil)
	assert.Nil(t, connects)
	require.NotNil(t, messages)
	assert.Equal(t, c.Quota.MessageLimit, messages.Limit())

	c.Workflow.Mode = config.ModeBoth
	connects, messages = newTrackers(c, nil)
	assert.NotNil(t, connects)
	assert.NotNil(t, messages)
}

func TestNewWorkflow_RejectsBadDirectMessage(t *testing.T) {
	c := config.DefaultConfig()
	c.Workflow.DirectMessage = "Hi {{.FirstName"
	_, err := newWorkflow(c, newLocator(c))
	assert.Error(t, err)

	c.Workflow.DirectMessage = config.DefaultDirectMessage
	c.Workflow.Mode = config.ModeBoth
	wf, err := newWorkflow(c, newLocator(c))
	require.NoError(t, err)
	assert.Equal(t, workflow.ModeBoth, wf.Mode())
}

func TestQuotaStoreFor(t *testing.T) {
	dir := t.TempDir()
	c := config.DefaultConfig()
	c.Quota.Path = filepath.Join(dir, "quota.json")

	db, err := store.OpenSQLite(filepath.Join(dir, "profiles.db"))
	require.NoError(t, err)
	defer db.Close()

	fs, ok := quotaStoreFor(c, db, types.ActionConnect).(*quota.FileStore)
	require.True(t, ok, "file backend is the default")
	assert.Equal(t, c.Quota.Path, fs.Path())

	fs, ok = quotaStoreFor(c, db, types.ActionMessage).(*quota.FileStore)
	require.True(t, ok)
	assert.Equal(t, c.Quota.MessagePath, fs.Path(), "messages are counted in their own file")

	c.Quota.Backend = "store"
	_, isFile := quotaStoreFor(c, db, types.ActionConnect).(*quota.FileStore)
	assert.False(t, isFile, "store backend keeps quota in the database")

	csvPath := filepath.Join(dir, "people.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Name,Linkedin URL\n"), 0644))
	csvStore, err := store.OpenCSV(csvPath)
	require.NoError(t, err)
	_, isFile = quotaStoreFor(c, csvStore, types.ActionConnect).(*quota.FileStore)
	assert.True(t, isFile, "csv stores fall back to the quota file")
}

func TestImportThenListProfiles(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "linkedin-data.csv")
	dbPath := filepath.Join(dir, "profiles.db")
	csv := strings.Join([]string{
		"Name,Company Name,Linkedin URL,Status",
		"Jane Doe,Acme,https://www.linkedin.com/in/jane-doe/,",
		"John Roe,Initech,https://linkedin.com/in/john-roe,sent",
		"Nobody,Nowhere,,",
		"Jane Again,Acme,https://www.linkedin.com/in/jane-doe,",
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(csv), 0644))

	cmd, out := testCommand(t)
	require.NoError(t, importProfiles(cmd, []string{csvPath, dbPath}))
	assert.Contains(t, out.String(), "2 profiles")

	cfg = config.DefaultConfig()
	cfg.Store.Path = dbPath
	cmd, out = testCommand(t)
	profilesShown = 0
	require.NoError(t, listProfiles(cmd, nil))

	listing := out.String()
	assert.Contains(t, listing, "jane-doe")
	assert.NotContains(t, listing, "john-roe", "sent profiles are settled")
}

func TestRenderQueue_ListsOnlyShownProfiles(t *testing.T) {
	shown := []types.Profile{{Identifier: "alpha-one"}, {Identifier: "beta-two"}}
	out := renderQueue(queue.Stats{Total: 5}, shown, 5)
	assert.Contains(t, out, "beta-two")
	assert.Contains(t, out, "... 3 more")

	out = renderQueue(queue.Stats{Total: 2}, shown, 2)
	assert.NotContains(t, out, "more")
}

func TestShowQuota(t *testing.T) {
	dir := t.TempDir()
	cfg = config.DefaultConfig()
	cfg.Quota.Path = filepath.Join(dir, "quota.json")
	cfg.Quota.MessagePath = filepath.Join(dir, "quota-messages.json")
	cfg.Quota.DailyLimit = 10
	cfg.Quota.MessageLimit = 30

	today := time.Now().Format(types.DateLayout)
	require.NoError(t, quota.NewFileStore(cfg.Quota.Path).Persist(context.Background(), types.QuotaRecord{Date: today, SentCount: 4}))
	require.NoError(t, quota.NewFileStore(cfg.Quota.MessagePath).Persist(context.Background(), types.QuotaRecord{Date: today, SentCount: 3}))

	cmd, out := testCommand(t)
	require.NoError(t, showQuota(cmd, nil))
	got := out.String()
	assert.Contains(t, got, today)
	assert.Contains(t, got, "connections")
	assert.Contains(t, got, "messages")
	assert.Contains(t, got, "6")
	assert.Contains(t, got, "27")
}

func TestRenderSummary(t *testing.T) {
	s := campaign.Summary{
		RunID:    "run-1",
		Reason:   campaign.StopQuotaExhausted,
		Queued:   5,
		Sent:     2,
		Messaged: 3,
		Skipped: map[types.OutcomeKind]int{
			types.OutcomeSkippedPending: 1,
		},
		Failed: map[string]int{
			types.ReasonSendError: 2,
		},
	}
	got := renderSummary(s)
	for _, want := range []string{"run-1", "quota_exhausted", "pending", "send_error", "messaged"} {
		assert.Contains(t, got, want)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "Acme", truncate("Acme", 10))
	assert.Equal(t, "Initec…", truncate("Initech Corporation", 7))
}
