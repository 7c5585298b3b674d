package catalog

import (
	"github.com/ethpandaops/indexoor/pkg/benchmark"
)

// Strategy ids of the built-in catalog.
const (
	StrategyNoIndex       = "no_index"
	StrategySingleIndexes = "single_indexes"
	StrategyBadComposite  = "bad_composite"
	StrategyGoodComposite = "good_composite"
	StrategyCovering      = "covering_index"
)

// Default returns the built-in catalog: four heavy analytic queries over the
// customers/orders dataset and five index strategies, baseline first.
func Default() *Catalog {
	return &Catalog{
		Strategies: defaultStrategies(),
		Queries:    defaultQueries(),
	}
}

func defaultStrategies() []benchmark.IndexStrategy {
	return []benchmark.IndexStrategy{
		{
			ID:    StrategyNoIndex,
			Label: "No secondary indexes",
			Kind:  benchmark.KindBaseline,
		},
		{
			ID:    StrategySingleIndexes,
			Label: "Single-column indexes",
			Kind:  benchmark.KindSingleColumn,
			Indexes: []benchmark.IndexDefinition{
				{ID: "idx_order_date", Table: "orders", Columns: []string{"order_date"}, Label: "order date"},
				{ID: "idx_country", Table: "orders", Columns: []string{"shipping_country"}, Label: "shipping country"},
				{ID: "idx_status", Table: "orders", Columns: []string{"status"}, Label: "status"},
			},
		},
		{
			ID:    StrategyBadComposite,
			Label: "Composite index, poor column order",
			Kind:  benchmark.KindComposite,
			Indexes: []benchmark.IndexDefinition{
				{
					ID:      "idx_bad_order",
					Table:   "orders",
					Columns: []string{"shipping_country", "status", "order_date"},
					Label:   "country, status, date",
				},
			},
		},
		{
			ID:    StrategyGoodComposite,
			Label: "Composite indexes, range column first",
			Kind:  benchmark.KindComposite,
			Indexes: []benchmark.IndexDefinition{
				{
					ID:      "idx_optimal_1",
					Table:   "orders",
					Columns: []string{"order_date", "total_amount", "status"},
					Label:   "date, amount, status",
				},
				{
					ID:      "idx_customer_reg",
					Table:   "customers",
					Columns: []string{"registration_date", "country"},
					Label:   "registration date, country",
				},
			},
		},
		{
			ID:    StrategyCovering,
			Label: "Covering indexes",
			Kind:  benchmark.KindCovering,
			Indexes: []benchmark.IndexDefinition{
				{
					ID:      "idx_covering",
					Table:   "orders",
					Columns: []string{"order_date", "shipping_country", "status", "total_amount", "customer_id"},
					Label:   "orders covering",
				},
				{
					ID:      "idx_customer_all",
					Table:   "customers",
					Columns: []string{"customer_id", "country", "city", "email", "registration_date"},
					Label:   "customers covering",
				},
			},
		},
	}
}

func defaultQueries() []benchmark.QueryDefinition {
	return []benchmark.QueryDefinition{
		{
			ID:    "hell_join_aggregation",
			Label: "Join with grouped aggregation",
			SQL: `SELECT c.country, c.city,
       COUNT(*) AS order_count,
       SUM(o.total_amount) AS total_revenue,
       AVG(o.total_amount) AS avg_order_value,
       MAX(o.total_amount) AS max_order
FROM customers c
JOIN orders o ON c.customer_id = o.customer_id
WHERE o.order_date BETWEEN '2023-06-01' AND '2023-06-30'
  AND o.total_amount > 500
  AND c.registration_date < '2023-01-01'
GROUP BY c.country, c.city
HAVING COUNT(*) > 5
ORDER BY total_revenue DESC
LIMIT 50`,
		},
		{
			ID:    "subquery_nightmare",
			Label: "Correlated subqueries",
			SQL: `SELECT DISTINCT c.email, c.country,
       (SELECT COUNT(*) FROM orders o2
        WHERE o2.customer_id = c.customer_id
          AND o2.status = 'delivered') AS delivered_count,
       (SELECT MAX(total_amount) FROM orders o3
        WHERE o3.customer_id = c.customer_id) AS max_amount
FROM customers c
WHERE EXISTS (
    SELECT 1 FROM orders o4
    WHERE o4.customer_id = c.customer_id
      AND o4.order_date >= '2023-01-01'
      AND o4.total_amount > 800
)
ORDER BY max_amount DESC
LIMIT 100`,
		},
		{
			ID:    "complex_date_range",
			Label: "Monthly date-range rollup",
			SQL: `SELECT DATE_FORMAT(o.order_date, '%Y-%m') AS month,
       o.shipping_country,
       o.status,
       COUNT(*) AS order_count,
       SUM(o.total_amount) AS revenue,
       COUNT(DISTINCT o.customer_id) AS unique_customers
FROM orders o
WHERE o.order_date BETWEEN '2023-01-01' AND '2023-12-31'
  AND o.total_amount BETWEEN 100 AND 2000
  AND o.status IN ('delivered', 'shipped')
GROUP BY DATE_FORMAT(o.order_date, '%Y-%m'), o.shipping_country, o.status
ORDER BY month, revenue DESC`,
		},
		{
			ID:    "ranking_with_window",
			Label: "Window function ranking",
			SQL: `SELECT c.country,
       c.email,
       o.total_amount,
       o.order_date,
       ROW_NUMBER() OVER (PARTITION BY c.country ORDER BY o.total_amount DESC) AS rank_in_country
FROM customers c
JOIN orders o ON c.customer_id = o.customer_id
WHERE o.order_date >= '2023-01-01'
  AND o.status = 'delivered'
HAVING rank_in_country <= 10
ORDER BY c.country, rank_in_country`,
		},
	}
}
