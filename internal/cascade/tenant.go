package cascade

const (
	byTenant   = "tenant_id = $1"
	byTenantID = "id = $1"
	byUserOf   = "user_id IN (SELECT id FROM users WHERE tenant_id = $1)"
	byEntityOf = "entity_id IN (SELECT id FROM entities WHERE tenant_id = $1)"
)

// TenantGraph describes every table holding a tenant's data. The deletion
// queue is deliberately absent so its entries survive the purge they record.
func TenantGraph() *Graph {
	g, err := New(
		Node{Table: "audit_logs", Where: byTenant, References: []string{"users"}},
		Node{Table: "integration_events", Where: byTenant, References: []string{"tenants"}},
		Node{Table: "notifications", Where: byTenant, References: []string{"tenants", "users"}},
		Node{Table: "tasks", Where: byTenant, References: []string{"tenants", "purchase_projects", "users"}},
		Node{Table: "purchase_projects", Where: byTenant, References: []string{"tenants", "users"}},
		Node{Table: "votes", Where: byTenant, References: []string{"tenants", "requests", "users"}},
		Node{Table: "requests", Where: byTenant, References: []string{"tenants", "users", "entities"}},
		Node{Table: "reviews", Where: byTenant, References: []string{"tenants", "users", "entities"}},
		Node{Table: "economy_items", Where: byTenant, References: []string{"tenants", "users"}},
		Node{Table: "import_batches", Where: byTenant, References: []string{"tenants", "users"}},
		Node{Table: "alert_settings", Where: byTenant, References: []string{"tenants"}},
		Node{Table: "integration_settings", Where: byTenant, References: []string{"tenants"}},
		Node{Table: "beta_feedback", Where: byTenant, References: []string{"tenants", "users"}},
		Node{Table: "push_subscriptions", Where: byUserOf, References: []string{"users"}},
		Node{Table: "user_badges", Where: byUserOf, References: []string{"users"}},
		Node{Table: "usage_records", Where: byUserOf, References: []string{"users", "entities"}},
		Node{Table: "users", Where: byTenant, References: []string{"tenants"}},
		Node{Table: "departments", Where: byEntityOf, References: []string{"entities"}},
		Node{Table: "contracts", Where: byEntityOf, References: []string{"entities"}},
		Node{Table: "entities", Where: byTenant, References: []string{"tenants"}},
		Node{Table: "tenants", Where: byTenantID},
	)
	if err != nil {
		panic(err)
	}
	return g
}
