package validation

// Category groups error codes by the stage that produces them. Stages run in
// category order and the first failure wins.
type Category string

// Stage categories, in evaluation order.
const (
	CategorySchema     Category = "schema"
	CategoryState      Category = "state"
	CategoryRange      Category = "range"
	CategoryPermission Category = "permission"
	CategoryResource   Category = "resource"
)

// Categories lists every category in evaluation order.
var Categories = []Category{
	CategorySchema,
	CategoryState,
	CategoryRange,
	CategoryPermission,
	CategoryResource,
}

// Code is a closed taxonomy of rejection reasons.
type Code string

// Schema codes.
const (
	CodeUnknownIntentType Code = "UnknownIntentType"
	CodeInvalidPayload    Code = "InvalidPayload"
	CodeInvalidFieldType  Code = "InvalidFieldType"
	CodeInvalidEnumValue  Code = "InvalidEnumValue"
	CodeNegativeAmount    Code = "NegativeAmount"
)

// State codes.
const (
	CodeActorNotFound     Code = "ActorNotFound"
	CodeActorSpawning     Code = "ActorSpawning"
	CodeActorDead         Code = "ActorDead"
	CodeTargetNotFound    Code = "TargetNotFound"
	CodeInvalidTargetType Code = "InvalidTargetType"
	CodeTargetNoStore     Code = "TargetNoStore"
	CodeOutOfBounds       Code = "OutOfBounds"
	CodeNameExists        Code = "NameExists"
)

// Range codes.
const (
	CodeOutOfRange Code = "OutOfRange"
)

// Permission codes.
const (
	CodeNotOwner          Code = "NotOwner"
	CodeSafeModeActive    Code = "SafeModeActive"
	CodeBlockedByRampart  Code = "BlockedByRampart"
	CodeHostileController Code = "HostileController"
)

// Resource codes.
const (
	CodeMissingBodyPart      Code = "MissingBodyPart"
	CodeInsufficientResource Code = "InsufficientResource"
	CodeInsufficientCapacity Code = "InsufficientCapacity"
	CodeFatigued             Code = "Fatigued"
	CodeOnCooldown           Code = "OnCooldown"
	CodeSourceDepleted       Code = "SourceDepleted"
)

var codeCategories = map[Code]Category{
	CodeUnknownIntentType:    CategorySchema,
	CodeInvalidPayload:       CategorySchema,
	CodeInvalidFieldType:     CategorySchema,
	CodeInvalidEnumValue:     CategorySchema,
	CodeNegativeAmount:       CategorySchema,
	CodeActorNotFound:        CategoryState,
	CodeActorSpawning:        CategoryState,
	CodeActorDead:            CategoryState,
	CodeTargetNotFound:       CategoryState,
	CodeInvalidTargetType:    CategoryState,
	CodeTargetNoStore:        CategoryState,
	CodeOutOfBounds:          CategoryState,
	CodeNameExists:           CategoryState,
	CodeOutOfRange:           CategoryRange,
	CodeNotOwner:             CategoryPermission,
	CodeSafeModeActive:       CategoryPermission,
	CodeBlockedByRampart:     CategoryPermission,
	CodeHostileController:    CategoryPermission,
	CodeMissingBodyPart:      CategoryResource,
	CodeInsufficientResource: CategoryResource,
	CodeInsufficientCapacity: CategoryResource,
	CodeFatigued:             CategoryResource,
	CodeOnCooldown:           CategoryResource,
	CodeSourceDepleted:       CategoryResource,
}

// Category returns the category of c, or "" for unknown codes.
func (c Code) Category() Category {
	return codeCategories[c]
}

// Result is the outcome of validating one intent.
type Result struct {
	Valid bool `json:"valid"`
	// Code is set on rejection.
	Code Code `json:"code,omitempty"`
}

// Accepted is the successful result.
var Accepted = Result{Valid: true}

// Rejected returns a failed result carrying code.
func Rejected(code Code) Result {
	return Result{Code: code}
}
