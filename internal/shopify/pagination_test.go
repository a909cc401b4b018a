package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardops/internal/apperr"
)

func decodeGraphQL(t *testing.T, r *http.Request) (string, map[string]interface{}) {
	t.Helper()
	var req struct {
		Query     string                 `json:"query"`
		Variables map[string]interface{} `json:"variables"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req.Query, req.Variables
}

func TestForEachVariantPageFollowsCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, vars := decodeGraphQL(t, r)

		if vars["after"] == nil {
			fmt.Fprint(w, `{"data":{"productVariants":{
				"edges":[
					{"node":{"id":"gid://shopify/ProductVariant/1","price":"10.00","inventoryQuantity":2}},
					{"node":{"id":"gid://shopify/ProductVariant/2","price":"5.00","inventoryQuantity":1}}
				],
				"pageInfo":{"hasNextPage":true,"endCursor":"c1"}}}}`)
			return
		}
		assert.Equal(t, "c1", vars["after"])
		fmt.Fprint(w, `{"data":{"productVariants":{
			"edges":[{"node":{"id":"gid://shopify/ProductVariant/3","price":"2.50","inventoryQuantity":4}}],
			"pageInfo":{"hasNextPage":false,"endCursor":""}}}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "2024-01")

	var rows []VariantRow
	pages, err := client.ForEachVariantPage(context.Background(), "tok", 2, func(page []VariantRow) error {
		rows = append(rows, page...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	require.Len(t, rows, 3)
	assert.Equal(t, "gid://shopify/ProductVariant/3", rows[2].VariantID)
}

func TestBulkExportGivesUpAfterBoundedPolls(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query, _ := decodeGraphQL(t, r)

		if strings.Contains(query, "bulkOperationRunQuery") {
			fmt.Fprint(w, `{"data":{"bulkOperationRunQuery":{
				"bulkOperation":{"id":"gid://shopify/BulkOperation/1","status":"CREATED"},
				"userErrors":[]}}}`)
			return
		}
		atomic.AddInt32(&polls, 1)
		fmt.Fprint(w, `{"data":{"currentBulkOperation":{
			"id":"gid://shopify/BulkOperation/1","status":"RUNNING"}}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "2024-01")
	cfg := BulkPollConfig{Interval: time.Millisecond, MaxChecks: 3}

	err := client.RunBulkVariantExport(context.Background(), "tok", cfg, func(VariantRow) error { return nil })
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNetwork))
	assert.EqualValues(t, 3, atomic.LoadInt32(&polls))
}

func TestBulkExportSurfacesFailedOperation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query, _ := decodeGraphQL(t, r)

		if strings.Contains(query, "bulkOperationRunQuery") {
			fmt.Fprint(w, `{"data":{"bulkOperationRunQuery":{
				"bulkOperation":{"id":"gid://shopify/BulkOperation/1","status":"CREATED"},
				"userErrors":[]}}}`)
			return
		}
		fmt.Fprint(w, `{"data":{"currentBulkOperation":{
			"id":"gid://shopify/BulkOperation/1","status":"FAILED","errorCode":"INTERNAL_SERVER_ERROR"}}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "2024-01")
	cfg := BulkPollConfig{Interval: time.Millisecond, MaxChecks: 10}

	err := client.RunBulkVariantExport(context.Background(), "tok", cfg, func(VariantRow) error { return nil })
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestBulkExportStreamsResultFile(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/export.ndjson", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"gid://shopify/ProductVariant/1","price":"10.00","inventoryQuantity":2}

not json
{"id":"gid://shopify/ProductVariant/2","price":"5.00","inventoryQuantity":1}
`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		query, _ := decodeGraphQL(t, r)

		if strings.Contains(query, "bulkOperationRunQuery") {
			fmt.Fprint(w, `{"data":{"bulkOperationRunQuery":{
				"bulkOperation":{"id":"gid://shopify/BulkOperation/1","status":"CREATED"},
				"userErrors":[]}}}`)
			return
		}
		fmt.Fprintf(w, `{"data":{"currentBulkOperation":{
			"id":"gid://shopify/BulkOperation/1","status":"COMPLETED","url":"%s/export.ndjson"}}}`, server.URL)
	})

	client := NewClient(server.URL, "2024-01")
	cfg := BulkPollConfig{Interval: time.Millisecond, MaxChecks: 5}

	var rows []VariantRow
	err := client.RunBulkVariantExport(context.Background(), "tok", cfg, func(row VariantRow) error {
		rows = append(rows, row)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "gid://shopify/ProductVariant/1", rows[0].VariantID)
	assert.Equal(t, "5.00", rows[1].Price)
}
