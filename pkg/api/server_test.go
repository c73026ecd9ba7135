package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lectern/pkg/api"
	"github.com/platinummonkey/lectern/pkg/auth"
	"github.com/platinummonkey/lectern/pkg/blobstore"
	"github.com/platinummonkey/lectern/pkg/content"
	"github.com/platinummonkey/lectern/pkg/httputil"
	"github.com/platinummonkey/lectern/pkg/institutes"
	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/payments"
	"github.com/platinummonkey/lectern/pkg/permissions"
	"github.com/platinummonkey/lectern/pkg/quota"
	"github.com/platinummonkey/lectern/pkg/storage/memory"
)

const (
	keySecret     = "key-secret"
	webhookSecret = "webhook-secret"
	catalogID     = int64(10)
)

type stubGateway struct {
	mu    sync.Mutex
	calls int
}

func (g *stubGateway) Name() licensing.Gateway { return licensing.GatewayRazorpay }
func (g *stubGateway) KeyID() string           { return "rzp_test" }
func (g *stubGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return fmt.Sprintf("order_gw_%d", g.calls), nil
}

type testServer struct {
	t      *testing.T
	store  *memory.Store
	server *httptest.Server
	tokens map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	authz := permissions.NewAuthorizer(store, nil)
	ledger := licensing.NewService(store, authz, licensing.WithGateway(&stubGateway{}))
	tracker := quota.NewTracker(store, ledger)
	perms := permissions.NewService(store, authz, tracker, store)
	inst := institutes.NewService(store, authz, perms, tracker, ledger, store)

	blobs, err := blobstore.NewFileStore(t.TempDir(), "http://cdn.test")
	require.NoError(t, err)
	validator := blobstore.NewValidator(1<<20, blobstore.KindPDF, blobstore.KindImage)
	materials := content.NewService(store, store, authz, ledger, tracker, blobs, validator)

	gateway := payments.NewRazorpay(payments.RazorpayConfig{KeyID: "rzp_test", KeySecret: keySecret, WebhookSecret: webhookSecret})
	processor := payments.NewProcessor(ledger, gateway, store)

	require.NoError(t, store.UpsertCatalogEntry(ctx, &licensing.CatalogEntry{
		ID:           catalogID,
		Name:         "Monthly",
		Price:        1000,
		GSTPercent:   18,
		BillingCycle: licensing.BillingMonthly,
		Limits:       licensing.Limits{NoOfAdmin: 2, NoOfStaff: 2, NoOfFaculty: 1, ClassroomLimit: 2, StorageGB: 1, LMS: true},
		Active:       true,
	}))
	require.NoError(t, store.UpsertStoragePlan(ctx, &licensing.StoragePlan{PricePerGB: 10, GSTPercent: 18}))

	srv := api.NewServer(api.Services{
		Institutes:  inst,
		Permissions: perms,
		Licensing:   ledger,
		Quota:       tracker,
		Content:     materials,
		Payments:    processor,
		Directory:   store,
		Health:      store,
	}, api.ServerConfig{})

	ts := &testServer{t: t, store: store, server: httptest.NewServer(srv.Handler()), tokens: map[string]string{}}
	t.Cleanup(ts.server.Close)

	for _, id := range []string{"owner", "teacher", "teacher2"} {
		ts.addPrincipal(&auth.Principal{ID: id, IsTeacher: true})
	}
	ts.addPrincipal(&auth.Principal{ID: "student", IsStudent: true})
	return ts
}

func (ts *testServer) addPrincipal(p *auth.Principal) {
	token, hash, _, err := auth.NewTokenGenerator().GenerateToken()
	require.NoError(ts.t, err)
	ts.store.AddPrincipal(p)
	ts.store.AddToken(p.ID, hash)
	ts.tokens[p.ID] = token
}

func (ts *testServer) do(as, method, path string, body interface{}) *http.Response {
	ts.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.server.URL+"/api/v1"+path, reader)
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+ts.tokens[as])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	ts.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, dest interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

func (ts *testServer) createInstitute(name string) *institutes.Institute {
	ts.t.Helper()
	resp := ts.do("owner", http.MethodPost, "/institutes", map[string]string{"name": name})
	require.Equal(ts.t, http.StatusCreated, resp.StatusCode)
	var inst institutes.Institute
	decode(ts.t, resp, &inst)
	return &inst
}

// buyLicense selects the catalog entry, orders it, and settles it through
// the checkout callback
func (ts *testServer) buyLicense(instituteID int64) *licensing.Order {
	ts.t.Helper()
	path := fmt.Sprintf("/institutes/%d/licenses", instituteID)

	resp := ts.do("owner", http.MethodPost, path+"/select", map[string]interface{}{"license_id": catalogID})
	require.Equal(ts.t, http.StatusCreated, resp.StatusCode)
	var sel licensing.SelectedLicense
	decode(ts.t, resp, &sel)

	resp = ts.do("owner", http.MethodPost, path+"/orders", map[string]interface{}{"selected_license_id": sel.ID})
	require.Equal(ts.t, http.StatusCreated, resp.StatusCode)
	var created api.OrderResponse
	decode(ts.t, resp, &created)
	require.NotNil(ts.t, created.Credentials)
	assert.Equal(ts.t, "rzp_test", created.Credentials.KeyID)

	res := ts.callback("/payments/razorpay/callback", created.Credentials.GatewayOrderID, "pay_1")
	require.Equal(ts.t, payments.StatusSuccess, res.Status)
	return res.Order
}

func (ts *testServer) callback(path, gatewayOrderID, paymentID string) *payments.Result {
	ts.t.Helper()
	sig := payments.Sign([]byte(gatewayOrderID+"|"+paymentID), keySecret)
	resp := ts.do("", http.MethodPost, path, map[string]string{
		"razorpay_order_id":   gatewayOrderID,
		"razorpay_payment_id": paymentID,
		"razorpay_signature":  sig,
	})
	require.Equal(ts.t, http.StatusOK, resp.StatusCode)
	var res payments.Result
	decode(ts.t, resp, &res)
	return &res
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do("", http.MethodGet, "/licenses/catalog", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ts.tokens["ghost"] = "lct_notarealtoken"
	resp = ts.do("ghost", http.MethodGet, "/licenses/catalog", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateInstitute(t *testing.T) {
	ts := newTestServer(t)

	inst := ts.createInstitute("Springfield High")
	assert.Equal(t, "springfield-high", inst.Slug)
	assert.Equal(t, "owner", inst.OwnerID)

	resp := ts.do("owner", http.MethodGet, "/institutes/by-slug/springfield-high", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got institutes.Institute
	decode(t, resp, &got)
	assert.Equal(t, inst.ID, got.ID)

	t.Run("students cannot create institutes", func(t *testing.T) {
		resp := ts.do("student", http.MethodPost, "/institutes", map[string]string{"name": "Nope"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("name is required", func(t *testing.T) {
		resp := ts.do("owner", http.MethodPost, "/institutes", map[string]string{"name": "  "})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var body httputil.ErrorResponse
		decode(t, resp, &body)
		assert.Equal(t, "name", body.Field)
	})

	t.Run("unknown institute", func(t *testing.T) {
		resp := ts.do("owner", http.MethodGet, "/institutes/9999", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestClassesRequireLicense(t *testing.T) {
	ts := newTestServer(t)
	inst := ts.createInstitute("Shelbyville")
	classes := fmt.Sprintf("/institutes/%d/classes", inst.ID)

	resp := ts.do("owner", http.MethodPost, classes, map[string]string{"name": "Grade 1"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	order := ts.buyLicense(inst.ID)
	assert.True(t, order.Paid)

	for _, name := range []string{"Grade 1", "Grade 2"} {
		resp = ts.do("owner", http.MethodPost, classes, map[string]string{"name": name})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp = ts.do("owner", http.MethodPost, classes, map[string]string{"name": "Grade 3"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	var body httputil.ErrorResponse
	decode(t, resp, &body)
	require.NotNil(t, body.Limit)
	assert.Equal(t, 2.0, *body.Limit)

	resp = ts.do("owner", http.MethodGet, classes, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []*institutes.Class
	decode(t, resp, &list)
	assert.Len(t, list, 2)
}

func TestStatistics(t *testing.T) {
	ts := newTestServer(t)
	inst := ts.createInstitute("Capital City")
	path := fmt.Sprintf("/institutes/%d/statistics", inst.ID)

	resp := ts.do("owner", http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var before api.StatisticsResponse
	decode(t, resp, &before)
	assert.Equal(t, 0.0, before.StorageLimit)
	assert.Equal(t, 1, before.Institute.NoOfAdmins)

	ts.buyLicense(inst.ID)
	resp = ts.do("owner", http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var after api.StatisticsResponse
	decode(t, resp, &after)
	assert.Equal(t, 1.0, after.StorageLimit)

	resp = ts.do("teacher", http.MethodGet, path, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMembership(t *testing.T) {
	ts := newTestServer(t)
	inst := ts.createInstitute("Ogdenville")
	ts.buyLicense(inst.ID)
	members := fmt.Sprintf("/institutes/%d/members", inst.ID)

	resp := ts.do("owner", http.MethodPost, members, api.InviteRequest{InviteeID: "teacher", Role: auth.RoleStaff})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var perm permissions.InstitutePermission
	decode(t, resp, &perm)
	assert.False(t, perm.Active)

	resp = ts.do("owner", http.MethodPost, members, api.InviteRequest{InviteeID: "teacher", Role: auth.RoleStaff})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do("teacher", http.MethodPost, members+"/accept", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do("owner", http.MethodPost, members, api.InviteRequest{InviteeID: "student", Role: auth.RoleFaculty})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do("owner", http.MethodPost, members, api.InviteRequest{InviteeID: "teacher2", Role: "PRINCIPAL"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do("teacher", http.MethodGet, members+"?role=STAFF", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var staff []*permissions.InstitutePermission
	decode(t, resp, &staff)
	require.Len(t, staff, 1)
	assert.Equal(t, "teacher", staff[0].InviteeID)

	resp = ts.do("owner", http.MethodDelete, members+"/teacher", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do("teacher", http.MethodGet, members, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestScopePermissions(t *testing.T) {
	ts := newTestServer(t)
	inst := ts.createInstitute("North Haverbrook")
	ts.buyLicense(inst.ID)

	resp := ts.do("owner", http.MethodPost, fmt.Sprintf("/institutes/%d/classes", inst.ID), map[string]string{"name": "Grade 5"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var class institutes.Class
	decode(t, resp, &class)

	resp = ts.do("owner", http.MethodPost, fmt.Sprintf("/institutes/%d/members", inst.ID),
		api.InviteRequest{InviteeID: "teacher", Role: auth.RoleStaff})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = ts.do("teacher", http.MethodPost, fmt.Sprintf("/institutes/%d/members/accept", inst.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	scope := fmt.Sprintf("/scopes/class/%d/permissions", class.ID)

	resp = ts.do("teacher", http.MethodGet, scope+"/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var check map[string]bool
	decode(t, resp, &check)
	assert.False(t, check["allowed"])

	resp = ts.do("owner", http.MethodPost, scope, api.GrantRequest{InviteeID: "teacher"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do("teacher", http.MethodGet, scope+"/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &check)
	assert.True(t, check["allowed"])

	resp = ts.do("owner", http.MethodDelete, scope+"/teacher", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do("owner", http.MethodDelete, scope+"/teacher", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do("owner", http.MethodGet, "/scopes/galaxy/1/permissions", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do("owner", http.MethodGet, fmt.Sprintf("/scopes/institute/%d/permissions", inst.ID), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPaymentCallbacks(t *testing.T) {
	ts := newTestServer(t)
	inst := ts.createInstitute("Brockway")
	order := ts.buyLicense(inst.ID)

	t.Run("replayed callback is idempotent", func(t *testing.T) {
		res := ts.callback("/payments/razorpay/callback", order.GatewayOrderID, "pay_1")
		assert.Equal(t, payments.StatusSuccess, res.Status)
		assert.True(t, res.AlreadyProcessed)
	})

	t.Run("bad signature fails", func(t *testing.T) {
		resp := ts.do("", http.MethodPost, "/payments/razorpay/callback", map[string]string{
			"razorpay_order_id":   order.GatewayOrderID,
			"razorpay_payment_id": "pay_2",
			"razorpay_signature":  "deadbeef",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res payments.Result
		decode(t, resp, &res)
		assert.Equal(t, payments.StatusFailed, res.Status)
	})

	t.Run("wrong product", func(t *testing.T) {
		sig := payments.Sign([]byte(order.GatewayOrderID+"|pay_1"), keySecret)
		resp := ts.do("", http.MethodPost, "/payments/razorpay/storage-callback", map[string]string{
			"razorpay_order_id":   order.GatewayOrderID,
			"razorpay_payment_id": "pay_1",
			"razorpay_signature":  sig,
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("form encoded storage callback", func(t *testing.T) {
		resp := ts.do("owner", http.MethodPost, fmt.Sprintf("/institutes/%d/storage/orders", inst.ID),
			api.StorageOrderRequest{NoOfGB: 5, Months: 2})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var created api.OrderResponse
		decode(t, resp, &created)

		gwID := created.Credentials.GatewayOrderID
		form := url.Values{
			"razorpay_order_id":   {gwID},
			"razorpay_payment_id": {"pay_storage"},
			"razorpay_signature":  {payments.Sign([]byte(gwID+"|pay_storage"), keySecret)},
		}
		req, err := http.NewRequest(http.MethodPost, ts.server.URL+"/api/v1/payments/razorpay/storage-callback", strings.NewReader(form.Encode()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		formResp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer formResp.Body.Close()
		require.Equal(t, http.StatusOK, formResp.StatusCode)
		var res payments.Result
		decode(t, formResp, &res)
		assert.Equal(t, payments.StatusSuccess, res.Status)

		stats, err := ts.store.GetLicenseStatistics(context.Background(), inst.ID)
		require.NoError(t, err)
		assert.Equal(t, 5.0, stats.TotalStorage)
	})

	t.Run("missing order id", func(t *testing.T) {
		resp := ts.do("", http.MethodPost, "/payments/razorpay/callback", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestWebhook(t *testing.T) {
	ts := newTestServer(t)
	inst := ts.createInstitute("Cypress Creek")

	resp := ts.do("owner", http.MethodPost, fmt.Sprintf("/institutes/%d/licenses/select", inst.ID), map[string]interface{}{"license_id": catalogID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sel licensing.SelectedLicense
	decode(t, resp, &sel)
	resp = ts.do("owner", http.MethodPost, fmt.Sprintf("/institutes/%d/licenses/orders", inst.ID), map[string]interface{}{"selected_license_id": sel.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created api.OrderResponse
	decode(t, resp, &created)

	body := []byte(fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_wh","order_id":%q}}}}`,
		created.Credentials.GatewayOrderID))
	post := func(signature string) *payments.Result {
		req, err := http.NewRequest(http.MethodPost, ts.server.URL+"/api/v1/payments/razorpay/webhook", bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set(api.WebhookSignatureHeader, signature)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res payments.Result
		decode(t, resp, &res)
		return &res
	}

	assert.Equal(t, payments.StatusFailed, post("bogus").Status)
	res := post(payments.Sign(body, webhookSecret))
	assert.Equal(t, payments.StatusSuccess, res.Status)
	require.NotNil(t, res.Order)
	assert.True(t, res.Order.Paid)

	resp = ts.do("owner", http.MethodGet, fmt.Sprintf("/institutes/%d/licenses/status", inst.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status licensing.LicenseStatus
	decode(t, resp, &status)
	assert.True(t, status.Exists)
	assert.False(t, status.Expired)
}

func TestOrders(t *testing.T) {
	ts := newTestServer(t)
	inst := ts.createInstitute("Springfield Elementary")
	orders := fmt.Sprintf("/institutes/%d/licenses/orders", inst.ID)

	resp := ts.do("owner", http.MethodPost, fmt.Sprintf("/institutes/%d/storage/orders", inst.ID),
		api.StorageOrderRequest{NoOfGB: 2, Months: 1, Gateway: licensing.GatewayOffline})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created api.OrderResponse
	decode(t, resp, &created)
	assert.Equal(t, licensing.GatewayOffline, created.Order.Gateway)

	resp = ts.do("owner", http.MethodGet, orders+"?product=STORAGE", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []*licensing.Order
	decode(t, resp, &list)
	require.Len(t, list, 1)

	resp = ts.do("owner", http.MethodGet, orders+"?product=GOLD", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do("owner", http.MethodDelete, fmt.Sprintf("%s/%d", orders, created.Order.ID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do("owner", http.MethodGet, orders+"?product=STORAGE", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &list)
	assert.Empty(t, list)

	resp = ts.do("teacher", http.MethodGet, orders, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCatalog(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do("teacher", http.MethodGet, "/licenses/catalog", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []*licensing.CatalogEntry
	decode(t, resp, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, catalogID, entries[0].ID)

	resp = ts.do("teacher", http.MethodGet, "/licenses/storage-plan", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do("teacher", http.MethodGet, "/licenses/coupons/NOPE", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body httputil.ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, "coupon_code", body.Field)
}

func TestMaterials(t *testing.T) {
	ts := newTestServer(t)
	inst := ts.createInstitute("West Springfield")
	ts.buyLicense(inst.ID)

	resp := ts.do("owner", http.MethodPost, fmt.Sprintf("/institutes/%d/classes", inst.ID), map[string]string{"name": "Grade 7"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var class institutes.Class
	decode(t, resp, &class)
	resp = ts.do("owner", http.MethodPost, fmt.Sprintf("/classes/%d/subjects", class.ID), map[string]string{"name": "Biology"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var subject institutes.Subject
	decode(t, resp, &subject)

	upload := func(filename string, data []byte) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("title", "Cells"))
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/v1/subjects/%d/materials", ts.server.URL, subject.ID), &buf)
		require.NoError(t, err)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+ts.tokens["owner"])
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	pdf := []byte("%PDF-1.4\n1 0 obj << >> endobj\ntrailer << >>\n%%EOF\n")
	resp = upload("cells.pdf", pdf)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var m content.Material
	decode(t, resp, &m)
	assert.Equal(t, "Cells", m.Title)
	assert.Equal(t, content.KindPDF, m.Kind)

	resp = upload("fake.pdf", []byte("not a pdf at all"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do("owner", http.MethodGet, fmt.Sprintf("/subjects/%d/materials", subject.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []*content.Material
	decode(t, resp, &list)
	assert.Len(t, list, 1)

	resp = ts.do("owner", http.MethodDelete, fmt.Sprintf("/materials/%d", m.ID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do("owner", http.MethodGet, fmt.Sprintf("/materials/%d", m.ID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
