package sessionsync

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
)

// HTTPController exposes the session operations as a JSON API. It is a
// thin adapter: every decision lives in SessionController, the handlers
// only bind, validate, and translate errors to status codes.
type HTTPController struct {
	Controller *SessionController
	Logger     Logger
}

// HTTPControllerOption customizes the HTTP adapter.
type HTTPControllerOption func(*HTTPController)

// WithHTTPLogger overrides the logger.
func WithHTTPLogger(l Logger) HTTPControllerOption {
	return func(h *HTTPController) {
		if l != nil {
			h.Logger = l
		}
	}
}

func NewHTTPController(controller *SessionController, opts ...HTTPControllerOption) *HTTPController {
	h := &HTTPController{
		Controller: controller,
		Logger:     defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	if h.Controller == nil {
		panic("missing session controller in HTTP adapter")
	}

	return h
}

// RegisterRoutes mounts the JSON endpoints under the given router group.
func (h *HTTPController) RegisterRoutes(app fiber.Router) {
	app.Post("/auth/sign-in", h.SignIn)
	app.Post("/auth/sign-up", h.SignUp)
	app.Post("/auth/sign-out", h.SignOut)
	app.Get("/auth/session", h.Session)
	app.Patch("/auth/profile", h.UpdateProfile)
	app.Post("/auth/admin/accounts", h.AdminCreateAccount)
}

// SignInPayload carries credentials for the sign-in endpoint.
type SignInPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate runs validation rules.
func (p SignInPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
	)
}

func (h *HTTPController) SignIn(c *fiber.Ctx) error {
	payload := new(SignInPayload)

	if err := c.BodyParser(payload); err != nil {
		return h.bindError(c, err)
	}

	if err := payload.Validate(); err != nil {
		return h.validationError(c, err)
	}

	if err := h.Controller.SignIn(c.Context(), payload.Email, payload.Password); err != nil {
		return h.operationError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "signed_in",
	})
}

// SignUpPayload carries credentials and the profile seed for account
// registration endpoints.
type SignUpPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Phone    string `json:"phone"`
}

// Validate runs validation rules.
func (p SignUpPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&p.Password, validation.Required, validation.Length(8, 100)),
		validation.Field(&p.Name, validation.Length(0, 200)),
		validation.Field(&p.Role, validation.In(roleValues()...)),
	)
}

func (p SignUpPayload) seed() ProfileSeed {
	return ProfileSeed{
		Name:  p.Name,
		Role:  ProfileRole(p.Role),
		Phone: p.Phone,
	}
}

func (h *HTTPController) SignUp(c *fiber.Ctx) error {
	payload := new(SignUpPayload)

	if err := c.BodyParser(payload); err != nil {
		return h.bindError(c, err)
	}

	if err := payload.Validate(); err != nil {
		return h.validationError(c, err)
	}

	user, err := h.Controller.SignUp(c.Context(), payload.Email, payload.Password, payload.seed())
	if err != nil {
		return h.operationError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user": user,
	})
}

func (h *HTTPController) SignOut(c *fiber.Ctx) error {
	if err := h.Controller.SignOut(c.Context()); err != nil {
		// Local state is cleared even when the provider call failed;
		// report success with a hint instead of a hard failure.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":  "signed_out",
			"warning": "provider sign-out failed, local session cleared",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "signed_out",
	})
}

func (h *HTTPController) Session(c *fiber.Ctx) error {
	state := h.Controller.State()
	user := state.CurrentUser()

	body := fiber.Map{
		"authenticated": state.IsAuthenticated(),
		"loading":       state.Loading(),
		"user":          user,
	}

	if err := state.LastError(); err != nil {
		body["last_error"] = errorBody(err)
	}

	return c.JSON(body)
}

// UpdateProfilePayload carries the partial profile update. Absent fields
// keep their stored values.
type UpdateProfilePayload struct {
	Name  *string `json:"name"`
	Phone *string `json:"phone"`
	Role  *string `json:"role"`
}

// Validate runs validation rules.
func (p UpdateProfilePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Length(1, 200)),
		validation.Field(&p.Role, validation.In(roleValues()...)),
	)
}

func (p UpdateProfilePayload) update() ProfileUpdate {
	u := ProfileUpdate{
		Name:  p.Name,
		Phone: p.Phone,
	}
	if p.Role != nil {
		role := ProfileRole(*p.Role)
		u.Role = &role
	}
	return u
}

func (h *HTTPController) UpdateProfile(c *fiber.Ctx) error {
	payload := new(UpdateProfilePayload)

	if err := c.BodyParser(payload); err != nil {
		return h.bindError(c, err)
	}

	if err := payload.Validate(); err != nil {
		return h.validationError(c, err)
	}

	user, err := h.Controller.UpdateProfile(c.Context(), payload.update())
	if err != nil {
		return h.operationError(c, err)
	}

	return c.JSON(fiber.Map{
		"user": user,
	})
}

func (h *HTTPController) AdminCreateAccount(c *fiber.Ctx) error {
	payload := new(SignUpPayload)

	if err := c.BodyParser(payload); err != nil {
		return h.bindError(c, err)
	}

	if err := payload.Validate(); err != nil {
		return h.validationError(c, err)
	}

	result, err := h.Controller.CreateAccountAsAdmin(c.Context(), payload.Email, payload.Password, payload.seed())
	if err != nil {
		return h.operationError(c, err)
	}

	status := fiber.StatusCreated
	if !result.ProfileCreated {
		// Identity exists but the profile row is pending first sign-in.
		status = fiber.StatusAccepted
	}

	return c.Status(status).JSON(fiber.Map{
		"user":            result.User,
		"profile_created": result.ProfileCreated,
	})
}

func (h *HTTPController) bindError(c *fiber.Ctx, err error) error {
	h.Logger.Error("request body parse failed", "error", err)
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": fiber.Map{
			"message":   "failed to parse request body",
			"text_code": "bad_request",
		},
	})
}

func (h *HTTPController) validationError(c *fiber.Ctx, err error) error {
	body := fiber.Map{
		"message":   "validation failed",
		"text_code": "validation_error",
	}

	if fields, ok := err.(validation.Errors); ok {
		details := map[string]string{}
		for field, ferr := range fields {
			details[field] = ferr.Error()
		}
		body["fields"] = details
	}

	return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
		"error": body,
	})
}

func (h *HTTPController) operationError(c *fiber.Ctx, err error) error {
	h.Logger.Error("session operation failed", "error", err)
	return c.Status(httpStatus(err)).JSON(fiber.Map{
		"error": errorBody(err),
	})
}

func httpStatus(err error) int {
	var rich *errors.Error
	if errors.As(err, &rich) && rich != nil && rich.Code != 0 {
		return rich.Code
	}
	return fiber.StatusInternalServerError
}

func errorBody(err error) fiber.Map {
	var rich *errors.Error
	if errors.As(err, &rich) && rich != nil {
		return fiber.Map{
			"message":   rich.Message,
			"text_code": rich.TextCode,
			"category":  string(rich.Category),
		}
	}

	return fiber.Map{
		"message": err.Error(),
	}
}

func roleValues() []any {
	roles := AllRoles()
	values := make([]any, 0, len(roles))
	for _, role := range roles {
		values = append(values, string(role))
	}
	return values
}
