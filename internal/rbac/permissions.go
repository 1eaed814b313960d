package rbac

import "caredesk.org/internal/identity"

// PermAll is the wildcard granting every known permission.
const PermAll = "all"

// Capability codes used across the application.
const (
	PermPatientsView        = "patients.view"
	PermPatientsManage      = "patients.manage"
	PermPrescriptionsView   = "prescriptions.view"
	PermPrescriptionsManage = "prescriptions.manage"
	PermPrescriptionsSign   = "prescriptions.sign"
	PermPrescriptionsFill   = "prescriptions.fill"
	PermVitalsView          = "vitals.view"
	PermVitalsRecord        = "vitals.record"
	PermLabsView            = "labs.view"
	PermLabsRecord          = "labs.record"
	PermImagingView         = "imaging.view"
	PermImagingRecord       = "imaging.record"
	PermMessagesView        = "messages.view"
	PermMessagesSend        = "messages.send"
	PermReportsView         = "reports.view"
	PermUsersManage         = "users.manage"
	PermAuditView           = "audit.view"
	PermTranslationsManage  = "translations.manage"
)

// Shared capabilities every authenticated user holds regardless of role.
const (
	PermProfileManage  = "profile.manage"
	PermPasswordChange = "password.change"
	PermNavigate       = "navigation.access"
	PermLanguageSwitch = "language.switch"
)

// SharedPermissions is the fixed set granted to any authenticated user.
var SharedPermissions = map[string]struct{}{
	PermProfileManage:  {},
	PermPasswordChange: {},
	PermNavigate:       {},
	PermLanguageSwitch: {},
}

// AllPermissions enumerates every known capability code, used to expand the
// wildcard. Shared permissions are not listed; they are implied for everyone.
var AllPermissions = []string{
	PermPatientsView,
	PermPatientsManage,
	PermPrescriptionsView,
	PermPrescriptionsManage,
	PermPrescriptionsSign,
	PermPrescriptionsFill,
	PermVitalsView,
	PermVitalsRecord,
	PermLabsView,
	PermLabsRecord,
	PermImagingView,
	PermImagingRecord,
	PermMessagesView,
	PermMessagesSend,
	PermReportsView,
	PermUsersManage,
	PermAuditView,
	PermTranslationsManage,
}

// rolePermissions is the static permission table per role.
var rolePermissions = map[identity.Role][]string{
	identity.RoleAdmin:               {PermAll},
	identity.RoleSystemAdministrator: {PermAll},
	identity.RoleDoctor: {
		PermPatientsView, PermPatientsManage,
		PermPrescriptionsView, PermPrescriptionsManage, PermPrescriptionsSign,
		PermVitalsView, PermVitalsRecord,
		PermLabsView, PermImagingView,
		PermMessagesView, PermMessagesSend,
		PermReportsView,
	},
	identity.RoleSpecialist: {
		PermPatientsView,
		PermPrescriptionsView, PermPrescriptionsManage, PermPrescriptionsSign,
		PermVitalsView, PermVitalsRecord,
		PermLabsView, PermImagingView,
		PermMessagesView, PermMessagesSend,
	},
	identity.RoleNurse: {
		PermPatientsView,
		PermPrescriptionsView,
		PermVitalsView, PermVitalsRecord,
		PermMessagesView, PermMessagesSend,
	},
	identity.RoleCaregiver: {
		PermPatientsView,
		PermVitalsView,
		PermMessagesView, PermMessagesSend,
	},
	identity.RolePatient: {
		PermPrescriptionsView,
		PermVitalsView,
		PermMessagesView, PermMessagesSend,
	},
	identity.RolePharmacist: {
		PermPrescriptionsView, PermPrescriptionsFill,
		PermMessagesView, PermMessagesSend,
	},
	identity.RoleLabTechnician: {
		PermLabsView, PermLabsRecord,
		PermMessagesView,
	},
	identity.RoleRadiologyTechnician: {
		PermImagingView, PermImagingRecord,
		PermMessagesView,
	},
	identity.RoleAdministrative: {
		PermPatientsView,
		PermReportsView,
		PermMessagesView, PermMessagesSend,
	},
}
