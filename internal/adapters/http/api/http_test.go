package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/okian/receval/internal/adapters/http/api"
	repository "github.com/okian/receval/internal/adapters/repository"
	service "github.com/okian/receval/internal/app"
	"github.com/okian/receval/internal/domain/split"
	"github.com/okian/receval/pkg/logger"
	"github.com/okian/receval/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

const evaluateBody = `{
	"label": "random",
	"k": 3,
	"recommendations": {"1": [1, 2, 3], "2": [4, 5, 6]},
	"relevance": {"1": [1], "2": [7]},
	"items": [1, 2, 3, 4, 5, 6, 7]
}`

const logRows = `[
	{"user_id": 1, "item_id": 10, "rating": 5, "timestamp": 1},
	{"user_id": 2, "item_id": 11, "rating": 4, "timestamp": 2},
	{"user_id": 1, "item_id": 11, "rating": 3, "timestamp": 3},
	{"user_id": 2, "item_id": 10, "rating": 4, "timestamp": 4},
	{"user_id": 1, "item_id": 11, "rating": 2, "timestamp": 5},
	{"user_id": 1, "item_id": 10, "rating": 5, "timestamp": 6}
]`

const smallOptions = `{"min_train_ratings": 1, "min_test_user_train": 1, "min_test_user_test": 1, "quantile": 0.5}`

type record struct {
	Label        string             `json:"model_name"`
	K            int                `json:"k"`
	Metrics      map[string]float64 `json:"metrics"`
	ExperimentID string             `json:"experiment_id"`
	Warnings     []map[string]any   `json:"warnings"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newMux(svc *service.Service, maxBody int64) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(svc, svc, maxBody).Register(context.Background(), mux)
	return mux
}

func newService() *service.Service {
	return service.New(
		service.WithLogger(logger.Nop()),
		service.WithMetrics(metrics.NewManager(metrics.WithPrometheusRegistry(prometheus.NewRegistry()))),
		service.WithStore(repository.NewMemoryStore()),
	)
}

func do(mux *http.ServeMux, method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeAs[T any](w *httptest.ResponseRecorder) T {
	var v T
	So(json.Unmarshal(w.Body.Bytes(), &v), ShouldBeNil)
	return v
}

func TestEvaluateEndpoints(t *testing.T) {
	Convey("Given a running API", t, func() {
		svc := newService()
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()
		mux := newMux(svc, 0)

		Convey("When a model is evaluated", func() {
			w := do(mux, http.MethodPost, "/evaluate", "application/json", evaluateBody)

			Convey("Then the record is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				rec := decodeAs[record](w)
				So(rec.Label, ShouldEqual, "random")
				So(rec.K, ShouldEqual, 3)
				So(rec.Metrics["hit_rate@3"], ShouldEqual, 0.5)
				So(rec.Metrics["recall@3"], ShouldEqual, 0.5)
				So(rec.Metrics, ShouldContainKey, "coverage@3")
				So(rec.ExperimentID, ShouldBeEmpty)
				So(rec.Warnings, ShouldBeEmpty)
			})
		})

		Convey("When the result is saved", func() {
			body := strings.Replace(evaluateBody, `"k": 3,`, `"k": 3, "save": true,`, 1)
			w := do(mux, http.MethodPost, "/evaluate", "application/json", body)
			So(w.Code, ShouldEqual, http.StatusCreated)
			rec := decodeAs[record](w)
			So(rec.ExperimentID, ShouldNotBeEmpty)

			Convey("Then it is listed and retrievable", func() {
				w := do(mux, http.MethodGet, "/experiments", "", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				list := decodeAs[struct {
					Experiments []repository.Row `json:"experiments"`
				}](w)
				So(len(list.Experiments), ShouldEqual, 1)
				So(list.Experiments[0].ID, ShouldEqual, rec.ExperimentID)

				w = do(mux, http.MethodGet, "/experiments/"+rec.ExperimentID, "", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decodeAs[record](w).Metrics["hit_rate@3"], ShouldEqual, 0.5)

				w = do(mux, http.MethodGet, "/experiments/missing", "", "")
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(decodeAs[apiError](w).Code, ShouldEqual, "not_found")
			})
		})

		Convey("When the user sets differ", func() {
			body := strings.Replace(evaluateBody, `"2": [7]`, `"2": [7], "3": [1]`, 1)
			w := do(mux, http.MethodPost, "/evaluate", "application/json", body)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			e := decodeAs[apiError](w)
			So(e.Code, ShouldEqual, "mismatched_users")
			So(e.Message, ShouldStartWith, "hit_rate:")
		})

		Convey("When the request is invalid", func() {
			w := do(mux, http.MethodPost, "/evaluate", "application/json", `{"k": 3}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeAs[apiError](w).Code, ShouldEqual, "bad_request")

			w = do(mux, http.MethodPost, "/evaluate", "application/json", `{not json`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)

			w = do(mux, http.MethodPost, "/evaluate", "application/json", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)

			w = do(mux, http.MethodPost, "/evaluate", "text/plain", evaluateBody)
			So(w.Code, ShouldEqual, http.StatusUnsupportedMediaType)

			w = do(mux, http.MethodPost, "/evaluate", "application/json", strings.Replace(evaluateBody, `"k": 3`, `"k": -2`, 1))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When a batch is evaluated", func() {
			oracle := strings.Replace(strings.Replace(evaluateBody, `"random"`, `"oracle"`, 1),
				`{"1": [1, 2, 3], "2": [4, 5, 6]}`, `{"1": [1], "2": [7]}`, 1)
			w := do(mux, http.MethodPost, "/evaluate/batch", "application/json",
				`{"runs": [`+evaluateBody+`,`+oracle+`]}`)

			Convey("Then results keep the request order", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				out := decodeAs[struct {
					Results []record `json:"results"`
				}](w)
				So(len(out.Results), ShouldEqual, 2)
				So(out.Results[0].Label, ShouldEqual, "random")
				So(out.Results[1].Label, ShouldEqual, "oracle")
				So(out.Results[1].Metrics["ndcg@3"], ShouldEqual, 1.0)
			})
		})

		Convey("When a batch is empty", func() {
			w := do(mux, http.MethodPost, "/evaluate/batch", "application/json", `{"runs": []}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the method does not match", func() {
			w := do(mux, http.MethodGet, "/evaluate", "", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})

	Convey("Given a service that was never started", t, func() {
		mux := newMux(newService(), 0)
		w := do(mux, http.MethodPost, "/evaluate", "application/json", evaluateBody)
		So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		So(decodeAs[apiError](w).Code, ShouldEqual, "not_started")
	})

	Convey("Given a small body limit", t, func() {
		svc := newService()
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()
		mux := newMux(svc, 64)

		w := do(mux, http.MethodPost, "/evaluate", "application/json", evaluateBody)
		So(w.Code, ShouldBeIn, []int{http.StatusRequestEntityTooLarge, http.StatusBadRequest})
	})
}

func TestSplitEndpoints(t *testing.T) {
	Convey("Given a running API", t, func() {
		svc := newService()
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()
		mux := newMux(svc, 0)

		type splitOut struct {
			Train []map[string]float64 `json:"train"`
			Test  []map[string]float64 `json:"test"`
			Stats struct {
				Threshold     int64 `json:"threshold"`
				FinalTestRows int   `json:"final_test_rows"`
			} `json:"stats"`
		}

		Convey("When a JSON log is split", func() {
			w := do(mux, http.MethodPost, "/split", "application/json",
				`{"rows": `+logRows+`, "options": `+smallOptions+`}`)

			Convey("Then both partitions and the stats are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				out := decodeAs[splitOut](w)
				So(out.Stats.Threshold, ShouldEqual, int64(3))
				So(len(out.Train), ShouldEqual, 3)
				So(len(out.Test), ShouldEqual, 3)
				So(out.Test[0]["timestamp"], ShouldBeGreaterThan, 3)
			})
		})

		Convey("When only some columns are kept", func() {
			opts := strings.Replace(smallOptions, `"quantile": 0.5`, `"quantile": 0.5, "keep": ["user_id", "item_id", "timestamp"]`, 1)
			w := do(mux, http.MethodPost, "/split", "application/json",
				`{"rows": `+logRows+`, "options": `+opts+`}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			out := decodeAs[splitOut](w)
			So(out.Train[0], ShouldNotContainKey, "rating")
			So(out.Train[0], ShouldContainKey, "user_id")
		})

		Convey("When a CSV log is split with query options", func() {
			csv := "user_id,item_id,rating,timestamp\n1,10,5,1\n2,11,4,2\n1,11,3,3\n2,10,4,4\n1,11,2,5\n1,10,5,6\n"
			w := do(mux, http.MethodPost,
				"/split?min_train_ratings=1&min_test_user_train=1&min_test_user_test=1&quantile=0.5", "text/csv", csv)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeAs[splitOut](w).Stats.FinalTestRows, ShouldEqual, 3)

			w = do(mux, http.MethodPost, "/split?quantile=high", "text/csv", csv)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the split leaves the test partition empty", func() {
			opts := strings.Replace(smallOptions, `"quantile": 0.5`, `"quantile": 1`, 1)
			w := do(mux, http.MethodPost, "/split", "application/json",
				`{"rows": `+logRows+`, "options": `+opts+`}`)
			So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
			So(decodeAs[apiError](w).Code, ShouldEqual, "empty_result")
		})

		Convey("When the options rename the time column", func() {
			opts := strings.Replace(smallOptions, `"quantile": 0.5`, `"quantile": 0.5, "time_column": "ts"`, 1)
			w := do(mux, http.MethodPost, "/split", "application/json",
				`{"rows": `+logRows+`, "options": `+opts+`}`)

			Convey("Then the rows are exposed under that name", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				out := decodeAs[splitOut](w)
				So(out.Stats.Threshold, ShouldEqual, int64(3))
				So(out.Train[0], ShouldContainKey, "ts")
				So(out.Train[0], ShouldNotContainKey, "timestamp")
			})
		})

		Convey("When a CSV log uses a time column named in the query", func() {
			csv := "user_id,item_id,rating,ts\n1,10,5,1\n2,11,4,2\n1,11,3,3\n2,10,4,4\n1,11,2,5\n1,10,5,6\n"
			w := do(mux, http.MethodPost,
				"/split?min_train_ratings=1&min_test_user_train=1&min_test_user_test=1&quantile=0.5&time_column=ts", "text/csv", csv)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeAs[splitOut](w).Stats.FinalTestRows, ShouldEqual, 3)
		})

		Convey("When the options keep an unknown column", func() {
			opts := strings.Replace(smallOptions, `"quantile": 0.5`, `"quantile": 0.5, "keep": ["user_id", "item_id", "timestamp", "title"]`, 1)
			w := do(mux, http.MethodPost, "/split", "application/json",
				`{"rows": `+logRows+`, "options": `+opts+`}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeAs[apiError](w).Code, ShouldEqual, "schema_error")
		})

		Convey("When the renamed time column collides with the rating column", func() {
			opts := strings.Replace(smallOptions, `"quantile": 0.5`, `"quantile": 0.5, "time_column": "rating"`, 1)
			w := do(mux, http.MethodPost, "/split", "application/json",
				`{"rows": `+logRows+`, "options": `+opts+`}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeAs[apiError](w).Code, ShouldEqual, "schema_error")
		})

		Convey("When a matrix is built", func() {
			w := do(mux, http.MethodPost, "/matrix", "application/json", `{"rows": `+logRows+`, "threshold": 3}`)

			Convey("Then the CSR arrays describe the kept interactions", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				out := decodeAs[struct {
					Rows   int   `json:"rows"`
					Cols   int   `json:"cols"`
					NNZ    int   `json:"nnz"`
					IndPtr []int `json:"indptr"`
				}](w)
				So(out.Rows, ShouldEqual, 2)
				So(out.Cols, ShouldEqual, 2)
				So(out.NNZ, ShouldEqual, 3)
				So(out.IndPtr, ShouldResemble, []int{0, 1, 3})
			})
		})

		Convey("When a matrix is requested without ratings", func() {
			w := do(mux, http.MethodPost, "/matrix", "application/json",
				`{"rows": `+logRows+`, "columns": ["user_id", "item_id"]}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeAs[apiError](w).Code, ShouldEqual, "schema_error")
		})
	})
}

func TestSplitConfiguredColumns(t *testing.T) {
	Convey("Given a service whose split defaults name a custom time column", t, func() {
		defaults := split.DefaultOptions()
		defaults.TimeColumn = "ts"
		defaults.MinTrainRatings, defaults.MinTestUserTrain, defaults.MinTestUserTest = 1, 1, 1
		defaults.Quantile = 0.5
		svc := service.New(
			service.WithLogger(logger.Nop()),
			service.WithMetrics(metrics.NewManager(metrics.WithPrometheusRegistry(prometheus.NewRegistry()))),
			service.WithStore(repository.NewMemoryStore()),
			service.WithSplitDefaults(defaults),
		)
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()
		mux := newMux(svc, 0)

		Convey("When a CSV log with that header is split", func() {
			csv := "user_id,item_id,rating,ts\n1,10,5,1\n2,11,4,2\n1,11,3,3\n2,10,4,4\n1,11,2,5\n1,10,5,6\n"
			w := do(mux, http.MethodPost, "/split", "text/csv", csv)

			Convey("Then the configured column is used", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				out := decodeAs[struct {
					Test []map[string]float64 `json:"test"`
				}](w)
				So(len(out.Test), ShouldEqual, 3)
				So(out.Test[0]["ts"], ShouldBeGreaterThan, 3)
			})
		})

		Convey("When a JSON log is split without options", func() {
			w := do(mux, http.MethodPost, "/split", "application/json", `{"rows": `+logRows+`}`)
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("When a CSV log still carries the default header", func() {
			csv := "user_id,item_id,rating,timestamp\n1,10,5,1\n"
			w := do(mux, http.MethodPost, "/split", "text/csv", csv)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeAs[apiError](w).Code, ShouldEqual, "schema_error")
		})
	})
}

func TestOperationalEndpoints(t *testing.T) {
	Convey("Given a running API", t, func() {
		svc := newService()
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()
		mux := newMux(svc, 0)

		Convey("Then /stats reports the service state", func() {
			w := do(mux, http.MethodGet, "/stats", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldStartWith, "application/json")
			stats := decodeAs[map[string]any](w)
			So(stats["started"], ShouldEqual, true)
		})

		Convey("Then /healthz serves the metrics exposition", func() {
			do(mux, http.MethodGet, "/stats", "", "")
			w := do(mux, http.MethodGet, "/healthz", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "receval_evaluator_http_requests_total")
		})
	})
}
