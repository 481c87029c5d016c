package permission

// Capability is an opaque permission tag gating one console action or view.
type Capability string

// Employee capabilities.
const (
	ViewDashboard  Capability = "view_dashboard"
	ViewCustomers  Capability = "view_customers"
	CreateCustomer Capability = "create_customer"
	EditCustomer   Capability = "edit_customer"
	ViewLeads      Capability = "view_leads"
	CreateLead     Capability = "create_lead"
	EditLead       Capability = "edit_lead"
	ViewTasks      Capability = "view_tasks"
	CreateTask     Capability = "create_task"
	EditTask       Capability = "edit_task"
	ViewCalendar   Capability = "view_calendar"
	CreateEvent    Capability = "create_event"
	ViewMessages   Capability = "view_messages"
	SendMessage    Capability = "send_message"
)

// Manager capabilities.
const (
	ViewReports    Capability = "view_reports"
	DeleteCustomer Capability = "delete_customer"
	DeleteLead     Capability = "delete_lead"
	DeleteTask     Capability = "delete_task"
	AssignTasks    Capability = "assign_tasks"
	ViewTeam       Capability = "view_team"
	ExportData     Capability = "export_data"
	ViewBilling    Capability = "view_billing"
)

// Admin capabilities.
const (
	ManageUsers        Capability = "manage_users"
	ManageCompany      Capability = "manage_company"
	ManageBilling      Capability = "manage_billing"
	ViewAuditLog       Capability = "view_audit_log"
	ManageIntegrations Capability = "manage_integrations"
)

// Platform-operator capabilities. Only RoleSuperAdmin may hold these.
const (
	ViewAdminPanel     Capability = "view_admin_panel"
	ManageAllUsers     Capability = "manage_all_users"
	ManageAllCompanies Capability = "manage_all_companies"
	ViewSystemLogs     Capability = "view_system_logs"
	ManagePermissions  Capability = "manage_permissions"
)

var reserved = []Capability{
	ViewAdminPanel,
	ManageAllUsers,
	ManageAllCompanies,
	ViewSystemLogs,
	ManagePermissions,
}

var employeeGrants = []Capability{
	ViewDashboard,
	ViewCustomers, CreateCustomer, EditCustomer,
	ViewLeads, CreateLead, EditLead,
	ViewTasks, CreateTask, EditTask,
	ViewCalendar, CreateEvent,
	ViewMessages, SendMessage,
}

var managerGrants = with(employeeGrants,
	ViewReports,
	DeleteCustomer, DeleteLead, DeleteTask,
	AssignTasks, ViewTeam, ExportData, ViewBilling,
)

var adminGrants = with(managerGrants,
	ManageUsers, ManageCompany, ManageBilling, ViewAuditLog, ManageIntegrations,
)

// grants is the role -> capability table. Sets must grow along the hierarchy (checked in init).
var grants = map[Role][]Capability{
	RoleEmployee:   employeeGrants,
	RoleManager:    managerGrants,
	RoleAdmin:      adminGrants,
	RoleSuperAdmin: with(adminGrants, reserved...),
}

// Reserved returns the platform-operator capabilities held only by RoleSuperAdmin.
func Reserved() []Capability {
	return append([]Capability(nil), reserved...)
}

func with(base []Capability, extra ...Capability) []Capability {
	out := make([]Capability, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}
