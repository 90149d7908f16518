package persistence

import (
	"github.com/settlr/settlr/internal/billing/domain/payment"
	"github.com/settlr/settlr/internal/billing/domain/plan"
	"github.com/settlr/settlr/internal/billing/domain/subscription"
	"github.com/settlr/settlr/internal/shared/infrastructure/database"
)

// NewSubscriptionRepository returns the repository matching the connection's
// driver.
func NewSubscriptionRepository(conn database.Connection) subscription.Repository {
	if conn.Driver() == database.DriverSQLite {
		return NewSQLiteSubscriptionRepository(conn)
	}
	return NewPostgresSubscriptionRepository(conn)
}

// NewPlanRepository returns the repository matching the connection's driver.
func NewPlanRepository(conn database.Connection) plan.Repository {
	if conn.Driver() == database.DriverSQLite {
		return NewSQLitePlanRepository(conn)
	}
	return NewPostgresPlanRepository(conn)
}

// NewPaymentRepository returns the repository matching the connection's
// driver.
func NewPaymentRepository(conn database.Connection) payment.Repository {
	if conn.Driver() == database.DriverSQLite {
		return NewSQLitePaymentRepository(conn)
	}
	return NewPostgresPaymentRepository(conn)
}
