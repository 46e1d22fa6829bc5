package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/RezaEskandarii/autopilot/types"
)

type DataMap struct {
	Data map[string]interface{}
}

func NewPaginatedDataMap[T any](data types.PaginationResult[T]) DataMap {
	return DataMap{
		Data: map[string]interface{}{
			"page":              data.Page,
			"page_size":         data.PageSize,
			"total_pages":       data.TotalPages,
			"items":             data.Items,
			"has_previous_page": data.HasPreviousPage,
			"has_next_page":     data.HasNextPage,
			"total_items":       data.TotalItems,
		},
	}
}

func (d DataMap) Add(key string, value interface{}) DataMap {
	d.Data[key] = value
	return d
}

func getPageNumber(r *http.Request) int {
	page := r.URL.Query().Get("page")
	pageNumber, err := strconv.ParseInt(page, 10, 64)
	if err != nil || pageNumber < 1 {
		pageNumber = 1
	}
	return int(pageNumber)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
