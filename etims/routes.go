package etims

import (
	"strings"
	"time"
)

// RouteKey names one remote operation. Keys are stable wire identifiers;
// the path behind a key can move without touching callers.
type RouteKey string

const (
	RouteSalesSave           RouteKey = "TrnsSalesSaveWrReq"
	RouteSalesSearch         RouteKey = "TrnsSalesSearchReq"
	RouteSalesLineSave       RouteKey = "SalesLineSaveReq"
	RouteSalesTransition     RouteKey = "SalesTransitionReq"
	RouteSalesSign           RouteKey = "SalesSignInvReq"
	RouteCreditNoteSave      RouteKey = "CreditNoteSaveReq"
	RouteCreditNoteLineSave  RouteKey = "SalesCreditNoteLineReq"
	RouteCreditNoteTransit   RouteKey = "SalesCreditNoteTransitionReq"
	RouteCreditNoteSign      RouteKey = "SalesCreditNoteSignReq"
	RouteItemsSearch         RouteKey = "ItemsSearchReq"
	RoutePartnerSave         RouteKey = "BhfCustSaveReq"
	RoutePurchaseSearch      RouteKey = "TrnsPurchaseItemReq"
	RouteStockAdjustSave     RouteKey = "StockAdjustmentSaveReq"
	RouteStockLineSave       RouteKey = "StockMasterLineReq"
	RouteStockAdjustTransit  RouteKey = "StockAdjustmentTransitionReq"
	RouteNoticeSearch        RouteKey = "NoticeSearchReq"
	RouteBranchUserSearch    RouteKey = "BhfUserSearchReq"
)

const defaultRouteTimeout = 30 * time.Second

// NoticeSearch returns the full bulletin backlog on the first pull, which
// can run long.
const noticeSearchTimeout = 30 * time.Minute

type routeSpec struct {
	Path        string
	Timeout     time.Duration
	Description string
}

var routeTable = map[RouteKey]routeSpec{
	RouteSalesSave:          {Path: "/sales/sales_invoices/", Description: "Save sales invoice"},
	RouteSalesSearch:        {Path: "/sales/sales_invoices/", Description: "Fetch sales invoice details"},
	RouteSalesLineSave:      {Path: "/sales/sales_invoice_lines/", Description: "Save sales invoice line"},
	RouteSalesTransition:    {Path: "/sales/sales_invoices/transition/", Description: "Transition sales invoice"},
	RouteSalesSign:          {Path: "/sales/sales_invoices/sign/", Description: "Sign sales invoice"},
	RouteCreditNoteSave:     {Path: "/sales/credit_notes/", Description: "Save credit note"},
	RouteCreditNoteLineSave: {Path: "/sales/credit_note_lines/", Description: "Save credit note line"},
	RouteCreditNoteTransit:  {Path: "/sales/credit_notes/transition/", Description: "Transition credit note"},
	RouteCreditNoteSign:     {Path: "/sales/credit_notes/sign/", Description: "Sign credit note"},
	RouteItemsSearch:        {Path: "/inventory/products/", Description: "Search or save product"},
	RoutePartnerSave:        {Path: "/partners/business_partners/", Description: "Search or save business partner"},
	RoutePurchaseSearch:     {Path: "/purchases/purchase_invoices/", Description: "Fetch registered purchases"},
	RouteStockAdjustSave:    {Path: "/inventory/stock_adjustments/", Description: "Save stock adjustment"},
	RouteStockLineSave:      {Path: "/inventory/stock_adjustment_lines/", Description: "Save stock adjustment line"},
	RouteStockAdjustTransit: {Path: "/inventory/stock_adjustments/transition/", Description: "Transition stock adjustment"},
	RouteNoticeSearch:       {Path: "/notices/", Timeout: noticeSearchTimeout, Description: "Fetch regulator notices"},
	RouteBranchUserSearch:   {Path: "/accounts/branch_users/", Description: "Fetch branch user details"},
}

type resolvedRoute struct {
	Key         RouteKey
	URL         string
	Timeout     time.Duration
	Description string
}

// resolveRoute binds a route key to the configured server, or returns a
// configuration error for an unknown key.
func resolveRoute(serverURL string, key RouteKey) (resolvedRoute, error) {
	spec, ok := routeTable[key]
	if !ok {
		return resolvedRoute{}, newConfigurationError("resolveRoute", "", "", "unknown route key "+string(key))
	}
	if strings.TrimSpace(serverURL) == "" {
		return resolvedRoute{}, newConfigurationError("resolveRoute", "", "", "server URL is not configured")
	}
	timeout := spec.Timeout
	if timeout == 0 {
		timeout = defaultRouteTimeout
	}
	return resolvedRoute{
		Key:         key,
		URL:         strings.TrimRight(serverURL, "/") + spec.Path,
		Timeout:     timeout,
		Description: spec.Description,
	}, nil
}
