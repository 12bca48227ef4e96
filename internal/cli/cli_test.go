package cli

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openslides/vmrepo/internal/fakeautoupdate"
	"github.com/openslides/vmrepo/pkg/constants"
)

func run(ctx context.Context, t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	var out bytes.Buffer
	cmd := rootCmd(io.Discard)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestSortCommandPersists(t *testing.T) {
	t.Setenv("VMREPO_STORAGE_PATH", filepath.Join(t.TempDir(), "settings.db"))
	ctx := context.Background()

	out, err := run(ctx, t, "sort")
	require.NoError(t, err)
	assert.Contains(t, out, "* sort_weight")
	assert.Contains(t, out, "(default sorting)")

	out, err = run(ctx, t, "sort", "title", "--desc")
	require.NoError(t, err)
	assert.Contains(t, out, "arrow_downward")

	out, err = run(ctx, t, "sort")
	require.NoError(t, err)
	assert.Contains(t, out, "* title")
	assert.NotContains(t, out, "(default sorting)")

	out, err = run(ctx, t, "sort", "--reset")
	require.NoError(t, err)
	assert.Contains(t, out, "* sort_weight")
	assert.Contains(t, out, "(default sorting)")
}

func TestSortCommandRejectsUnknownOption(t *testing.T) {
	t.Setenv("VMREPO_STORAGE_PATH", "")
	_, err := run(context.Background(), t, "sort", "color")
	assert.ErrorIs(t, err, constants.ErrUnknownSortOption)
}

func TestWatchRequiresURL(t *testing.T) {
	t.Setenv("VMREPO_URL", "")
	_, err := run(context.Background(), t, "watch")
	assert.ErrorIs(t, err, constants.ErrNoURL)
}

func TestWatchOnce(t *testing.T) {
	server := fakeautoupdate.NewServer("127.0.0.1:0")
	server.SetOnSubscribe(func(fakeautoupdate.Request) fakeautoupdate.Patch {
		return fakeautoupdate.Patch{
			"motion_state/1/id":         1,
			"motion_state/1/meeting_id": 1,
			"motion_state/1/name":       "submitted",
			"motion/1/id":               1,
			"motion/1/meeting_id":       1,
			"motion/1/title":            "Budget",
			"motion/1/number":           "A1",
			"motion/1/sort_weight":      2,
			"motion/1/state_id":         1,
			"motion/2/id":               2,
			"motion/2/meeting_id":       1,
			"motion/2/title":            "Agenda",
			"motion/2/sort_weight":      1,
		}
	})
	require.NoError(t, server.Start())
	defer server.Stop()

	t.Setenv("VMREPO_STORAGE_PATH", "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := run(ctx, t, "watch", "--once", "--url", server.URL(), "--log-level", "error")
	require.NoError(t, err)

	assert.Contains(t, out, "2 motions sorted by sort_weight, ascending")
	agenda, budget := strings.Index(out, "Agenda"), strings.Index(out, "Budget")
	require.True(t, agenda > 0 && budget > 0, out)
	assert.Less(t, agenda, budget)

	reqs := server.Requests()
	require.NotEmpty(t, reqs)
	var collections []string
	for _, r := range reqs[0].Request {
		collections = append(collections, r.Collection)
	}
	assert.Equal(t, []string{"motion", "motion_state", "motion_submitter", "motion_workflow"}, collections)
}
