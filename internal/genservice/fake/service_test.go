package fake

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/meshforge/internal/genservice"
	"github.com/kiranshivaraju/meshforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, svc *Service) *genservice.HTTPClient {
	t.Helper()
	ts := httptest.NewServer(svc.Handler())
	t.Cleanup(ts.Close)
	return genservice.NewHTTPClient(ts.URL, 5*time.Second)
}

func TestService_ScriptedLifecycle(t *testing.T) {
	svc := New()
	svc.ScriptPreview(Running(10), PreviewReady("http://x/a.glb", 40))
	svc.ScriptRefine(Completed("http://x/b.glb"))
	client := newClient(t, svc)
	ctx := context.Background()

	previewID, err := client.Generate(ctx, genservice.GenerateRequest{Prompt: "red sports car"})
	require.NoError(t, err)
	assert.Equal(t, "t1", previewID)

	st, err := client.Status(ctx, previewID)
	require.NoError(t, err)
	assert.Equal(t, models.ServiceStatusInProgress, st.Status)
	assert.Equal(t, 10, st.ProgressOrZero())

	for i := 0; i < 2; i++ {
		st, err = client.Status(ctx, previewID)
		require.NoError(t, err)
		assert.Equal(t, models.ServiceStatusPreviewReady, st.Status)
		assert.Equal(t, "http://x/a.glb", st.PreviewModelURL)
	}

	refineID, err := client.Refine(ctx, genservice.RefineRequest{PreviewTaskID: previewID})
	require.NoError(t, err)
	assert.Equal(t, "t2", refineID)

	st, err = client.Status(ctx, refineID)
	require.NoError(t, err)
	assert.Equal(t, models.ServiceStatusCompleted, st.Status)
	assert.Equal(t, "http://x/b.glb", st.GLBURL())

	assert.Equal(t, 1, svc.Calls(EndpointGenerate))
	assert.Equal(t, 1, svc.Calls(EndpointRefine))
	assert.Equal(t, 4, svc.Calls(EndpointStatus))
	assert.Equal(t, 3, svc.TaskCalls("t1"))
	assert.Equal(t, []string{"red sports car"}, svc.Prompts())
	assert.Equal(t, []string{"t1"}, svc.RefinedPreviews())
}

func TestService_UnscriptedTaskIsPending(t *testing.T) {
	svc := New()
	client := newClient(t, svc)

	id, err := client.Generate(context.Background(), genservice.GenerateRequest{Prompt: "helmet"})
	require.NoError(t, err)

	st, err := client.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ServiceStatusPending, st.Status)
}

func TestService_UnknownTask(t *testing.T) {
	client := newClient(t, New())

	_, err := client.Status(context.Background(), "nope")
	require.ErrorIs(t, err, genservice.ErrRequestFailed)
	assert.Equal(t, "Unknown task_id", genservice.ServiceMessage(err))
}

func TestService_Validation(t *testing.T) {
	client := newClient(t, New())

	_, err := client.Generate(context.Background(), genservice.GenerateRequest{})
	assert.Equal(t, "Prompt is required", genservice.ServiceMessage(err))

	_, err = client.Refine(context.Background(), genservice.RefineRequest{})
	assert.Equal(t, "preview_task_id is required", genservice.ServiceMessage(err))
}

func TestService_ScriptedReplies(t *testing.T) {
	svc := New()
	svc.ReplyGenerate(Reply{Code: http.StatusServiceUnavailable, Error: "busy"}, Reply{TaskID: "custom"})
	client := newClient(t, svc)

	_, err := client.Generate(context.Background(), genservice.GenerateRequest{Prompt: "a"})
	var apiErr *genservice.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "busy", apiErr.Message)

	id, err := client.Generate(context.Background(), genservice.GenerateRequest{Prompt: "b"})
	require.NoError(t, err)
	assert.Equal(t, "custom", id)
}

func TestService_Proxy(t *testing.T) {
	svc := New()
	svc.PutAsset("http://x/a.glb", []byte("glTF"))
	client := newClient(t, svc)

	resp, err := http.Get(client.ProxyURL("http://x/a.glb"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "model/gltf-binary", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "glTF", string(body))

	missing, err := http.Get(client.ProxyURL("http://x/missing.glb"))
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusBadGateway, missing.StatusCode)
	assert.Equal(t, 2, svc.Calls(EndpointProxy))
}
