package v1_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableControllerList(t *testing.T) {
	r, _ := newTestRouter(t)

	w := performRequest(r, http.MethodGet, "/v1/tables", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var relations []struct {
		Name    string   `json:"name"`
		Kind    string   `json:"kind"`
		Columns []string `json:"columns"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &relations))

	names := make([]string, 0, len(relations))
	for _, rel := range relations {
		names = append(names, rel.Name)
	}
	assert.Subset(t, names, []string{"experiment_list", "data_gauss", "method_kmeans", "result_clustering", "detail_1"})
}

func TestTableControllerQuery(t *testing.T) {
	r, _ := newTestRouter(t)

	t.Run("paginated", func(t *testing.T) {
		w := performRequest(r, http.MethodGet, "/v1/tables/experiment_list?page=1&page_size=1&order=id%20DESC", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var page struct {
			Total int64            `json:"total"`
			List  []map[string]any `json:"list"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		assert.Equal(t, int64(2), page.Total)
		require.Len(t, page.List, 1)
		assert.Equal(t, "failed", page.List[0]["status"])
	})

	t.Run("where and columns", func(t *testing.T) {
		w := performRequest(r, http.MethodGet, "/v1/tables/experiment_list?columns=id,status&where=status%3D%27finished%27", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var page struct {
			Total int64            `json:"total"`
			List  []map[string]any `json:"list"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		assert.Equal(t, int64(1), page.Total)
		require.Len(t, page.List, 1)
		assert.Len(t, page.List[0], 2)
	})

	t.Run("images hidden by default", func(t *testing.T) {
		w := performRequest(r, http.MethodGet, "/v1/tables/result_clustering", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "<image ")

		w = performRequest(r, http.MethodGet, "/v1/tables/result_clustering?with_images=true", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), "<image ")
	})

	t.Run("missing table", func(t *testing.T) {
		w := performRequest(r, http.MethodGet, "/v1/tables/result_missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
