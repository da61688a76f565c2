package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"license-accrual/pkg/db/pagination"
	"license-accrual/pkg/errutil"
	"license-accrual/pkg/middleware"
	"license-accrual/pkg/taskname"
	"license-accrual/services/ledger"
	"license-accrual/services/license"
	"license-accrual/services/order"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeLicenses struct {
	paused map[string]bool
}

func (f *fakeLicenses) Get(ctx context.Context, id string) (*license.License, error) {
	if id != "7" {
		return nil, errutil.NotFound("license not found", nil)
	}
	return &license.License{ID: id}, nil
}

func (f *fakeLicenses) Earnings(ctx context.Context, licenseID string) ([]*license.DailyEarning, error) {
	return []*license.DailyEarning{{LicenseID: licenseID}}, nil
}

func (f *fakeLicenses) SetPausePotential(ctx context.Context, id string, paused bool) error {
	if id != "7" {
		return errutil.UnprocessableEntity("license not found or not active", nil)
	}
	f.paused[id] = paused
	return nil
}

type fakeOrders struct {
	submitted map[string]string
}

func (f fakeOrders) SubmitTransaction(ctx context.Context, orderID, txHash string) error {
	if orderID != "5" {
		return errutil.NotFound("order not found", nil)
	}
	f.submitted[orderID] = txHash
	return nil
}

func (fakeOrders) AuditTrail(ctx context.Context, orderID string) ([]*order.AuditLog, error) {
	return []*order.AuditLog{{EntityID: orderID}}, nil
}

type fakeLedger struct {
	pages []pagination.Pagination
}

func (f *fakeLedger) EntriesPage(ctx context.Context, userID string, page pagination.Pagination) ([]*ledger.LedgerEntry, *pagination.PageInfo, error) {
	f.pages = append(f.pages, page)
	return []*ledger.LedgerEntry{{UserID: userID}}, &pagination.PageInfo{}, nil
}

func (f *fakeLedger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return decimal.NewFromInt(80), nil
}

func (f *fakeLedger) VerifyChain(ctx context.Context, userID string) (string, error) {
	if userID == "tampered" {
		return "entry-3", nil
	}
	return "", nil
}

type httpHarness struct {
	*adminHarness
	engine   *gin.Engine
	licenses *fakeLicenses
	ledger   *fakeLedger
	orders   fakeOrders
}

func newHTTPHarness(t *testing.T) *httpHarness {
	gin.SetMode(gin.TestMode)

	ah := newAdminHarness(t)
	lic := &fakeLicenses{paused: map[string]bool{}}
	led := &fakeLedger{}
	ord := fakeOrders{submitted: map[string]string{}}

	r := gin.New()
	r.Use(middleware.Error())
	(&Handler{admin: ah.admin, licenses: lic, orders: ord, ledger: led}).Register(r)

	return &httpHarness{adminHarness: ah, engine: r, licenses: lic, ledger: led, orders: ord}
}

func (h *httpHarness) do(method, path string) *httptest.ResponseRecorder {
	return h.doBody(method, path, "")
}

func (h *httpHarness) doBody(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.engine.ServeHTTP(w, req)
	return w
}

func TestListQueuesRoute(t *testing.T) {
	h := newHTTPHarness(t)
	h.inspector.register(taskname.QueueValidation, asynq.QueueInfo{Pending: 4})

	w := h.do(http.MethodGet, "/admin/queues")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Queues []QueueStats `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Queues, 3)
	require.Equal(t, 4, body.Queues[2].Pending)
}

func TestQueueRoutes(t *testing.T) {
	h := newHTTPHarness(t)
	h.inspector.register(taskname.QueueEarnings, asynq.QueueInfo{})

	w := h.do(http.MethodPost, "/admin/queues/earnings/pause")
	require.Equal(t, http.StatusOK, w.Code)

	var stats QueueStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.True(t, stats.Paused)

	w = h.do(http.MethodPost, "/admin/queues/earnings/resume")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.False(t, stats.Paused)

	w = h.do(http.MethodPost, "/admin/queues/earnings/cleanup")
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/admin/queues/default")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), `"not_found"`)
}

func TestTriggerRoutes(t *testing.T) {
	h := newHTTPHarness(t)

	w := h.do(http.MethodPost, "/admin/earnings/run")
	require.Equal(t, http.StatusAccepted, w.Code)

	h.enqueuer.Err = asynq.ErrDuplicateTask
	w = h.do(http.MethodPost, "/admin/earnings/run")
	require.Equal(t, http.StatusConflict, w.Code)
	h.enqueuer.Err = nil

	w = h.do(http.MethodPost, "/admin/orders/99/validate")
	require.Equal(t, http.StatusAccepted, w.Code)

	tasks := h.enqueuer.Tasks()
	require.Len(t, tasks, 2)
	require.Equal(t, taskname.OrderValidation, tasks[1].Task.Type())
	require.Equal(t, taskname.ValidationTaskID("99"), tasks[1].Opts[asynq.TaskIDOpt])
}

func TestLicenseRoutes(t *testing.T) {
	h := newHTTPHarness(t)

	w := h.do(http.MethodPost, "/admin/licenses/7/pause")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, h.licenses.paused["7"])

	w = h.do(http.MethodPost, "/admin/licenses/7/unpause")
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, h.licenses.paused["7"])

	w = h.do(http.MethodPost, "/admin/licenses/8/pause")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = h.do(http.MethodGet, "/admin/licenses/7")
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/admin/licenses/8")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodGet, "/admin/orders/5/audit")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestLedgerRoutes(t *testing.T) {
	h := newHTTPHarness(t)

	w := h.do(http.MethodGet, "/admin/users/u1/ledger?limit=5&cursor=abc")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []pagination.Pagination{{Cursor: "abc", Limit: 5}}, h.ledger.pages)
	require.Contains(t, w.Body.String(), `"balance":"80"`)

	w = h.do(http.MethodGet, "/admin/users/u1/ledger?limit=many")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodGet, "/admin/users/tampered/ledger/verify")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"intact":false`)
}

func TestSubmitTransactionRoute(t *testing.T) {
	h := newHTTPHarness(t)

	w := h.doBody(http.MethodPost, "/admin/orders/5/transaction", `{"tx_hash":"0xabc"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, "0xabc", h.orders.submitted["5"])

	w = h.doBody(http.MethodPost, "/admin/orders/5/transaction", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = h.doBody(http.MethodPost, "/admin/orders/6/transaction", `{"tx_hash":"0xabc"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
}
