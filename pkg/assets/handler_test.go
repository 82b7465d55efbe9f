package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"nftmarket/pkg/chain"
	"nftmarket/pkg/ledger"
	"nftmarket/pkg/response"
)

type mockAssetService struct {
	mock.Mock
}

func (m *mockAssetService) Mint(ctx context.Context, req MintRequest) (ledger.Asset, error) {
	args := m.Called(ctx, req)
	asset, _ := args.Get(0).(ledger.Asset)
	return asset, args.Error(1)
}

func (m *mockAssetService) GetAssetByID(ctx context.Context, id int64) (ledger.Asset, error) {
	args := m.Called(ctx, id)
	asset, _ := args.Get(0).(ledger.Asset)
	return asset, args.Error(1)
}

func (m *mockAssetService) ListAssets(ctx context.Context, page, limit int) ([]ledger.Asset, int64, error) {
	args := m.Called(ctx, page, limit)
	items, _ := args.Get(0).([]ledger.Asset)
	return items, args.Get(1).(int64), args.Error(2)
}

func (m *mockAssetService) ResumeMint(ctx context.Context, id int64) (ledger.Asset, error) {
	args := m.Called(ctx, id)
	asset, _ := args.Get(0).(ledger.Asset)
	return asset, args.Error(1)
}

func (m *mockAssetService) RetryMint(ctx context.Context, id int64) (ledger.Asset, error) {
	args := m.Called(ctx, id)
	asset, _ := args.Get(0).(ledger.Asset)
	return asset, args.Error(1)
}

func setupAssetRouter(service AssetService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewAssetHandler(service, 32)
	h.RegisterRoutes(r)
	return r
}

func mintRequest(t *testing.T, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		part, err := w.CreateFormFile("file", "art.png")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/assets", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestAssetHandler_Mint_Success(t *testing.T) {
	svc := new(mockAssetService)
	r := setupAssetRouter(svc)

	token := "local-1"
	expected := ledger.Asset{ID: 1, OwnerID: 4, Name: "Art", OnchainTokenID: &token, Status: ledger.StatusActive}
	svc.On("Mint", mock.Anything, mock.MatchedBy(func(req MintRequest) bool {
		return req.OwnerID == 4 && req.Name == "Art" && string(req.Content) == "pixels" && req.Metadata["rarity"] == "rare"
	})).Return(expected, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, mintRequest(t, map[string]string{
		"user_id":  "4",
		"name":     "Art",
		"metadata": `{"rarity":"rare"}`,
	}, []byte("pixels")))

	require.Equal(t, http.StatusCreated, w.Code)
	var resp response.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "asset minted", resp.Message)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 1, data["id"])
	require.Equal(t, "local-1", data["onchain_token_id"])

	svc.AssertExpectations(t)
}

func TestAssetHandler_Mint_BadInput(t *testing.T) {
	cases := []struct {
		name   string
		fields map[string]string
		file   []byte
		status int
	}{
		{"missing user", map[string]string{}, []byte("x"), http.StatusBadRequest},
		{"bad metadata", map[string]string{"user_id": "1", "metadata": "[1,2"}, []byte("x"), http.StatusBadRequest},
		{"missing file", map[string]string{"user_id": "1"}, nil, http.StatusBadRequest},
		{"too large", map[string]string{"user_id": "1"}, bytes.Repeat([]byte("a"), 33), http.StatusRequestEntityTooLarge},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(mockAssetService)
			r := setupAssetRouter(svc)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, mintRequest(t, tc.fields, tc.file))

			require.Equal(t, tc.status, w.Code)
			svc.AssertNotCalled(t, "Mint", mock.Anything, mock.Anything)
		})
	}
}

func TestAssetHandler_Mint_Failures(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", fmt.Errorf("%w: content is empty", ErrValidation), http.StatusBadRequest, "validation"},
		{"upload", fmt.Errorf("%w: down", ErrContentUpload), http.StatusBadGateway, "content_upload"},
		{"rejected", fmt.Errorf("%w: %w", ErrMintFailed, chain.ErrRejected), http.StatusBadGateway, "mint_failed"},
		{"timeout", fmt.Errorf("%w: %w", ErrMintFailed, chain.ErrTimeout), http.StatusBadGateway, "mint_timeout"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(mockAssetService)
			r := setupAssetRouter(svc)
			svc.On("Mint", mock.Anything, mock.Anything).Return(ledger.Asset{ID: 9, Status: ledger.StatusMintFailed}, tc.err)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, mintRequest(t, map[string]string{"user_id": "1"}, []byte("x")))

			require.Equal(t, tc.status, w.Code)
			var resp response.APIResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.False(t, resp.Success)
			require.Equal(t, tc.code, resp.Code)
		})
	}
}

func TestAssetHandler_GetAsset(t *testing.T) {
	svc := new(mockAssetService)
	r := setupAssetRouter(svc)

	svc.On("GetAssetByID", mock.Anything, int64(3)).Return(ledger.Asset{ID: 3}, nil)
	svc.On("GetAssetByID", mock.Anything, int64(4)).Return(ledger.Asset{}, ledger.ErrAssetNotFound)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/assets/3", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/assets/4", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/assets/nope", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	svc.AssertExpectations(t)
}

func TestAssetHandler_ListAssets(t *testing.T) {
	svc := new(mockAssetService)
	r := setupAssetRouter(svc)

	svc.On("ListAssets", mock.Anything, 2, 100).Return([]ledger.Asset{{ID: 1}}, int64(101), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/assets?page=2&limit=500", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp response.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]any)
	require.EqualValues(t, 101, data["total"])
	require.EqualValues(t, 100, data["limit"])

	svc.AssertExpectations(t)
}
