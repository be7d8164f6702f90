package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/servease/dispatch-service/internal/model"
	"github.com/servease/dispatch-service/internal/repo"
	"github.com/servease/dispatch-service/internal/service"
	"github.com/shopspring/decimal"
)

func RegisterHandlers(r *gin.Engine, reqSvc *service.RequestService, ledger *service.LedgerService) {
	v1 := r.Group("/v1")
	{
		v1.POST("/requests", createRequestHandler(reqSvc))
		v1.GET("/requests", listRequestsHandler(reqSvc))
		v1.GET("/requests/:id", getRequestHandler(reqSvc))
		v1.POST("/requests/:id/transition", transitionHandler(reqSvc))
		v1.GET("/requests/:id/commissions", requestCommissionsHandler(ledger))
		v1.POST("/requests/:id/distribute", manualDistributeHandler(ledger))

		v1.POST("/commissions/mark-paid", markPaidHandler(ledger))
		v1.GET("/commissions/config/:serviceType", commissionConfigHandler(ledger))
		v1.POST("/commissions/config/init", initConfigsHandler(ledger))

		v1.GET("/wallets/:id/balance", balanceHandler(ledger))
		v1.GET("/wallets/:id/commissions", userCommissionsHandler(ledger))
		v1.POST("/wallets/:id/reconcile", reconcileHandler(ledger))
		v1.POST("/wallets/reconcile-all", reconcileAllHandler(ledger))
	}
}

// statusFor maps the core error taxonomy onto HTTP. The core never retries;
// 409 tells the caller to re-read and try again.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repo.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrConfigMissing),
		errors.Is(err, service.ErrInvalidAmount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidServiceType):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

type createRequestReq struct {
	CustomerID    uint64 `json:"customer_id" binding:"required"`
	ServiceType   string `json:"service_type" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	PaymentMethod string `json:"payment_method"`
	ServiceData   string `json:"service_data"`
	District      string `json:"district"`
	Taluk         string `json:"taluk"`
	Pincode       string `json:"pincode"`
}

func createRequestHandler(svc *service.RequestService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequestReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		out, err := svc.CreateRequest(c, service.CreateRequestInput{
			CustomerID:    req.CustomerID,
			ServiceType:   model.ServiceType(req.ServiceType),
			Amount:        amt,
			PaymentMethod: req.PaymentMethod,
			ServiceData:   req.ServiceData,
			District:      req.District,
			Taluk:         req.Taluk,
			Pincode:       req.Pincode,
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

type transitionReq struct {
	ActingUserID   uint64 `json:"acting_user_id" binding:"required"`
	ActingRole     string `json:"acting_role" binding:"required"`
	ExpectedStatus string `json:"expected_status" binding:"required"`
	TargetStatus   string `json:"target_status" binding:"required"`
	Notes          string `json:"notes"`
}

func transitionHandler(svc *service.RequestService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transitionReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		out, err := svc.Transition(c, service.TransitionInput{
			RequestID:      id,
			ActingUserID:   req.ActingUserID,
			ActingRole:     model.Role(req.ActingRole),
			ExpectedStatus: model.Status(req.ExpectedStatus),
			TargetStatus:   model.Status(req.TargetStatus),
			Notes:          req.Notes,
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func getRequestHandler(svc *service.RequestService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		out, err := svc.GetRequest(c, id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func listRequestsHandler(svc *service.RequestService) gin.HandlerFunc {
	return func(c *gin.Context) {
		assignee, _ := strconv.ParseUint(c.Query("assignee_id"), 10, 64)
		customer, _ := strconv.ParseUint(c.Query("customer_id"), 10, 64)
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		out, err := svc.ListRequests(c, repo.RequestFilter{
			Status:      model.Status(c.Query("status")),
			ServiceType: model.ServiceType(c.Query("service_type")),
			AssigneeID:  assignee,
			CustomerID:  customer,
			Limit:       limit,
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func requestCommissionsHandler(ledger *service.LedgerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		rows, err := ledger.ListRequestCommissions(c, id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func manualDistributeHandler(ledger *service.LedgerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		if err := ledger.ManualDistribute(c, id); err != nil {
			fail(c, err)
			return
		}
		rows, err := ledger.ListRequestCommissions(c, id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

type markPaidReq struct {
	TransactionIDs []uint64 `json:"transaction_ids" binding:"required"`
}

func markPaidHandler(ledger *service.LedgerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req markPaidReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, ledger.MarkAsPaid(c, req.TransactionIDs))
	}
}

func commissionConfigHandler(ledger *service.LedgerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := ledger.GetCommissionConfig(c, model.ServiceType(c.Param("serviceType")))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func initConfigsHandler(ledger *service.LedgerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		seeded, err := ledger.InitializeDefaultConfigs(c)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"seeded": seeded})
	}
}

func balanceHandler(ledger *service.LedgerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		bal, err := ledger.GetWalletBalance(c, id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal})
	}
}

func userCommissionsHandler(ledger *service.LedgerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		rows, err := ledger.ListUserCommissions(c, id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func reconcileHandler(ledger *service.LedgerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		bal, err := ledger.Reconcile(c, id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal})
	}
}

func reconcileAllHandler(ledger *service.LedgerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := ledger.ReconcileAll(c)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reconciled": n})
	}
}
