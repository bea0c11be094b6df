package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"testing"

	echoapi "github.com/trezcool/maombi/apps/api/echo"
	"github.com/trezcool/maombi/core/application"
	"github.com/trezcool/maombi/core/user"
	emailsvc "github.com/trezcool/maombi/services/email"
	testutil "github.com/trezcool/maombi/tests"
)

func identityFor(usr user.User) application.Identity {
	return application.Identity{ID: usr.ID, Email: usr.Email, Name: usr.Name}
}

func Test_applicationApi_submit(t *testing.T) {
	resetDB(t)

	prog := testutil.CreateProgram(t, progRepo, "BSC-CS", "Computer Science", true)
	course := prog.Courses[0]
	closed := testutil.CreateProgram(t, progRepo, "BSC-LAW", "Law", false)

	applicant := testutil.CreateUser(t, usrRepo, "Ngozi Obi", "ngoziobi", "ngozi.obi@test.ng", "", []string{user.RoleApplicant}, true)
	token := getToken(t, applicant)

	validApp := testutil.ValidApplication(prog.ID, course.ID)

	badNameAndPhone := validApp
	badNameAndPhone.PersonalInfo.FirstName = "N1"
	badNameAndPhone.PersonalInfo.Phone = "080312"

	underage := validApp
	underage.PersonalInfo.DateOfBirth = "2010-01-01"

	selfReferee := validApp
	selfReferee.Referee.Email = validApp.PersonalInfo.Email

	unknownProg := testutil.ValidApplication("lol", course.ID)
	closedProg := testutil.ValidApplication(closed.ID, closed.Courses[0].ID)
	unknownCourse := testutil.ValidApplication(prog.ID, "lol")

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "invalid fields", token: token, wantCode: http.StatusBadRequest,
			body: marchallObj(t, echoapi.SubmitRequest{Application: badNameAndPhone}),
			wantData: marchallObj(t, map[string]string{
				"personalInfo.firstName": "only letters and spaces are allowed",
				"personalInfo.phone":     "must start with '+' followed by the country code and number, e.g. +2348031234567",
			}),
		},
		{
			name: "underage applicant", token: token, wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.SubmitRequest{Application: underage}),
			wantData: marchallObj(t, map[string]string{"personalInfo.dateOfBirth": "applicants must be at least 18 years old"}),
		},
		{
			name: "referee is the applicant", token: token, wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.SubmitRequest{Application: selfReferee}),
			wantData: marchallObj(t, map[string]string{"referee.email": "referee email must be different from the applicant's email"}),
		},
		{
			name: "unknown program", token: token, wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.SubmitRequest{Application: unknownProg}),
			wantData: marchallObj(t, map[string]string{"programSelection.programId": "program not found"}),
		},
		{
			name: "closed program", token: token, wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.SubmitRequest{Application: closedProg}),
			wantData: marchallObj(t, map[string]string{"programSelection.programId": "program is closed for applications"}),
		},
		{
			name: "unknown course", token: token, wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.SubmitRequest{Application: unknownCourse}),
			wantData: marchallObj(t, map[string]string{"programSelection.courseId": "course not found for this program"}),
		},
		{
			name: "submitted", token: token, wantCode: http.StatusCreated,
			body: marchallObj(t, echoapi.SubmitRequest{Application: validApp}),
		},
		{
			name: "duplicate submission", token: token, wantCode: http.StatusConflict,
			body:     marchallObj(t, echoapi.SubmitRequest{Application: validApp}),
			wantData: marchallObj(t, httpErr{Error: "An application is already pending review for this account."}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/applications"

		t.Run(tt.name, func(t *testing.T) {
			emailsvc.SentMessages = nil // reset

			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusCreated {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				var res application.SubmitResult
				if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
					t.Fatalf("json.Unmarshal() failed! err %v", err)
				}
				if !res.Success {
					t.Error("failed! success = false; want true")
				}
				if res.ID == "" {
					t.Fatal("failed! empty submission ID")
				}
				if want := fmt.Sprintf("Application %s submitted successfully.", res.ID); res.Message != want {
					t.Errorf("failed! message = %q; want %q", res.Message, want)
				}

				// confirmation email
				if len(emailsvc.SentMessages) != 1 {
					t.Fatalf("failed! len(SentMessages) = %d; want 1", len(emailsvc.SentMessages))
				}
				msg := emailsvc.SentMessages[0]
				if wantTo := (mail.Address{Name: applicant.Name, Address: applicant.Email}); msg.To[0] != wantTo {
					t.Errorf("failed! To = %v; want %v", msg.To[0], wantTo)
				}
				if !strings.Contains(msg.TextContent, res.ID) {
					t.Errorf("failed! text content does not contain the application reference %q", res.ID)
				}
				return
			}
			checkCodeAndData(t, tt, rec)

			if tt.wantCode != http.StatusCreated && len(emailsvc.SentMessages) > 0 {
				t.Errorf("failed! len(SentMessages) = %d; want 0", len(emailsvc.SentMessages))
			}
		})
	}
}

func Test_applicationApi_instanceState(t *testing.T) {
	resetDB(t)

	prog := testutil.CreateProgram(t, progRepo, "BSC-CS", "Computer Science", true)
	applicant := testutil.CreateUser(t, usrRepo, "Ngozi Obi", "ngoziobi", "ngozi.obi@test.ng", "", []string{user.RoleApplicant}, true)
	other := testutil.CreateUser(t, usrRepo, "Bola Ahmed", "bolaahmed", "bola@test.ng", "", []string{user.RoleApplicant}, true)
	token := getToken(t, applicant)

	getState := func(t *testing.T, token, key string) application.State {
		t.Helper()
		req, rec := newAuthRequest(http.MethodGet, "/v1/applications/state?instance_key="+key, token)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; wantCode %v", rec.Code, http.StatusOK)
		}
		var resp echoapi.InstanceStateResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("json.Unmarshal() failed! err %v", err)
		}
		return resp.State
	}
	submit := func(t *testing.T, data echoapi.SubmitRequest, wantCode int) {
		t.Helper()
		req, rec := newAuthRequest(http.MethodPost, "/v1/applications", token, marchallObj(t, data))
		app.ServeHTTP(rec, req)
		if rec.Code != wantCode {
			t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, wantCode, rec.Body.String())
		}
	}

	// auth required
	req, rec := newRequest(http.MethodGet, "/v1/applications/state?instance_key=form-a")
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)

	// no attempt yet
	if state := getState(t, token, "form-a"); state != application.StateIdle {
		t.Errorf("failed! state = %v; want %v", state, application.StateIdle)
	}

	// successful attempt
	submit(t, echoapi.SubmitRequest{Application: testutil.ValidApplication(prog.ID, prog.Courses[0].ID), InstanceKey: "form-a"}, http.StatusCreated)
	if state := getState(t, token, "form-a"); state != application.StateSucceeded {
		t.Errorf("failed! state = %v; want %v", state, application.StateSucceeded)
	}

	// failed attempt on another form instance
	submit(t, echoapi.SubmitRequest{Application: testutil.ValidApplication("lol", "lol"), InstanceKey: "form-b"}, http.StatusBadRequest)
	if state := getState(t, token, "form-b"); state != application.StateFailed {
		t.Errorf("failed! state = %v; want %v", state, application.StateFailed)
	}

	// form instances are scoped per user
	if state := getState(t, getToken(t, other), "form-a"); state != application.StateIdle {
		t.Errorf("failed! state = %v; want %v", state, application.StateIdle)
	}
}

func Test_applicationApi_drafts(t *testing.T) {
	resetDB(t)

	prog := testutil.CreateProgram(t, progRepo, "BSC-CS", "Computer Science", true)
	applicant := testutil.CreateUser(t, usrRepo, "Ngozi Obi", "ngoziobi", "ngozi.obi@test.ng", "", []string{user.RoleApplicant}, true)
	other := testutil.CreateUser(t, usrRepo, "Bola Ahmed", "bolaahmed", "bola@test.ng", "", []string{user.RoleApplicant}, true)
	token := getToken(t, applicant)

	partial := application.Application{
		PersonalInfo: application.PersonalInfo{FirstName: "Ngozi", Email: "ngozi.obi@test.ng"},
	}

	// create
	req, rec := newAuthRequest(http.MethodPost, "/v1/applications/drafts", token, marchallObj(t, partial))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var draft application.Submission
	if err := json.Unmarshal(rec.Body.Bytes(), &draft); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if draft.ID == "" {
		t.Fatal("failed! empty draft ID")
	}
	if draft.Status != application.StatusDraft {
		t.Errorf("failed! status = %v; want %v", draft.Status, application.StatusDraft)
	}
	if draft.UserID != applicant.ID {
		t.Errorf("failed! userId = %v; want %v", draft.UserID, applicant.ID)
	}

	// update
	partial.PersonalInfo.LastName = "Obi"
	req, rec = newAuthRequest(http.MethodPut, "/v1/applications/drafts/"+draft.ID, token, marchallObj(t, partial))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var updated application.Submission
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if updated.PersonalInfo.LastName != "Obi" {
		t.Errorf("failed! lastName = %v; want Obi", updated.PersonalInfo.LastName)
	}

	errDraftNotFound := marchallObj(t, httpErr{Error: "draft not found"})

	// unknown draft
	req, rec = newAuthRequest(http.MethodPut, "/v1/applications/drafts/lol", token, marchallObj(t, partial))
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: errDraftNotFound}, rec)

	// drafts are scoped to their owner
	req, rec = newAuthRequest(http.MethodPut, "/v1/applications/drafts/"+draft.ID, getToken(t, other), marchallObj(t, partial))
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: errDraftNotFound}, rec)

	// delete
	req, rec = newAuthRequest(http.MethodDelete, "/v1/applications/drafts/"+draft.ID, token)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("failed! code = %v; wantCode %v", rec.Code, http.StatusNoContent)
	}
	req, rec = newAuthRequest(http.MethodDelete, "/v1/applications/drafts/"+draft.ID, token)
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: errDraftNotFound}, rec)

	// a submitted draft is finalized in place and stops being a draft
	req, rec = newAuthRequest(http.MethodPost, "/v1/applications/drafts", token, marchallObj(t, partial))
	app.ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &draft); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}

	data := echoapi.SubmitRequest{Application: testutil.ValidApplication(prog.ID, prog.Courses[0].ID), DraftID: draft.ID}
	req, rec = newAuthRequest(http.MethodPost, "/v1/applications", token, marchallObj(t, data))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var res application.SubmitResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if res.ID != draft.ID {
		t.Errorf("failed! id = %v; want %v", res.ID, draft.ID)
	}

	req, rec = newAuthRequest(http.MethodGet, "/v1/applications/mine/"+draft.ID, token)
	app.ServeHTTP(rec, req)
	var sub application.Submission
	if err := json.Unmarshal(rec.Body.Bytes(), &sub); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if sub.Status != application.StatusPending {
		t.Errorf("failed! status = %v; want %v", sub.Status, application.StatusPending)
	}

	req, rec = newAuthRequest(http.MethodDelete, "/v1/applications/drafts/"+draft.ID, token)
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: errDraftNotFound}, rec)
}

func Test_applicationApi_queryOwn(t *testing.T) {
	resetDB(t)

	prog := testutil.CreateProgram(t, progRepo, "BSC-CS", "Computer Science", true)
	course := prog.Courses[0]
	usrA := testutil.CreateUser(t, usrRepo, "Ngozi Obi", "ngoziobi", "ngozi.obi@test.ng", "", []string{user.RoleApplicant}, true)
	usrB := testutil.CreateUser(t, usrRepo, "Bola Ahmed", "bolaahmed", "bola@test.ng", "", []string{user.RoleApplicant}, true)

	draftA := testutil.CreateDraft(t, appRepo, identityFor(usrA), application.Application{})
	subA := testutil.CreateApplication(t, appRepo, identityFor(usrA), testutil.ValidApplication(prog.ID, course.ID))
	subB := testutil.CreateApplication(t, appRepo, identityFor(usrB), testutil.ValidApplication(prog.ID, course.ID))

	tokenA := getToken(t, usrA)

	tests := []httpTest{
		{name: "Auth required", path: "/v1/applications/mine", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Own applications only", path: "/v1/applications/mine", token: tokenA, wantData: marchallList(t, draftA, subA)},
		{name: "status=draft", path: "/v1/applications/mine?status=draft", token: tokenA, wantData: marchallList(t, draftA)},
		{name: "status=pending", path: "/v1/applications/mine?status=pending", token: tokenA, wantData: marchallList(t, subA)},
		{name: "Other owner", path: "/v1/applications/mine", token: getToken(t, usrB), wantData: marchallList(t, subB)},
		{name: "Detail", path: "/v1/applications/mine/" + subA.ID, token: tokenA, wantData: marchallObj(t, subA)},
		{
			name: "Detail of another owner's application", path: "/v1/applications/mine/" + subB.ID, token: tokenA,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_applicationApi_query(t *testing.T) {
	resetDB(t)

	prog := testutil.CreateProgram(t, progRepo, "BSC-CS", "Computer Science", true)
	course := prog.Courses[0]
	usrA := testutil.CreateUser(t, usrRepo, "Ngozi Obi", "ngoziobi", "ngozi.obi@test.ng", "", []string{user.RoleApplicant}, true)
	usrB := testutil.CreateUser(t, usrRepo, "Bola Ahmed", "bolaahmed", "bola@test.ng", "", []string{user.RoleApplicant}, true)
	officer := testutil.CreateUser(t, usrRepo, "Officer", "offica", "officer@test.ng", "", []string{user.RoleOfficer}, true)
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin1", "admin@test.ng", "", []string{user.RoleAdmin}, true)

	appB := testutil.ValidApplication(prog.ID, course.ID)
	appB.PersonalInfo.FirstName = "Bola"
	appB.PersonalInfo.LastName = "Ahmed"
	appB.PersonalInfo.Email = "bola@test.ng"

	subA := testutil.CreateApplication(t, appRepo, identityFor(usrA), testutil.ValidApplication(prog.ID, course.ID))
	subB := testutil.CreateApplication(t, appRepo, identityFor(usrB), appB)
	draftB := testutil.CreateDraft(t, appRepo, identityFor(usrB), application.Application{})

	officerToken := getToken(t, officer)

	tests := []httpTest{
		{name: "Auth required", path: "/v1/applications", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Staff required", path: "/v1/applications", token: getToken(t, usrA), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Officer gets all", path: "/v1/applications", token: officerToken, wantData: marchallList(t, subA, subB, draftB)},
		{name: "Admin gets all", path: "/v1/applications", token: getToken(t, admin), wantData: marchallList(t, subA, subB, draftB)},
		{name: "status=pending", path: "/v1/applications?status=pending", token: officerToken, wantData: marchallList(t, subA, subB)},
		{name: "status=draft", path: "/v1/applications?status=draft", token: officerToken, wantData: marchallList(t, draftB)},
		{name: "search (unknown)", path: "/v1/applications?search=lol", token: officerToken, wantData: marchallList(t, []interface{}{}...)},
		{name: "search=ngozi", path: "/v1/applications?search=ngozi", token: officerToken, wantData: marchallList(t, subA)},
		{name: "search=ahmed", path: "/v1/applications?search=ahmed", token: officerToken, wantData: marchallList(t, subB)},
		{name: "search & status", path: "/v1/applications?search=bola&status=pending", token: officerToken, wantData: marchallList(t, subB)},
		{name: "Detail", path: "/v1/applications/" + subA.ID, token: officerToken, wantData: marchallObj(t, subA)},
		{
			name: "Detail (unknown)", path: "/v1/applications/lol", token: officerToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{
			name: "Detail needs staff", path: "/v1/applications/" + subA.ID, token: getToken(t, usrB),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_applicationApi_updateStatus(t *testing.T) {
	resetDB(t)

	prog := testutil.CreateProgram(t, progRepo, "BSC-CS", "Computer Science", true)
	course := prog.Courses[0]
	applicant := testutil.CreateUser(t, usrRepo, "Ngozi Obi", "ngoziobi", "ngozi.obi@test.ng", "", []string{user.RoleApplicant}, true)
	officer := testutil.CreateUser(t, usrRepo, "Officer", "offica", "officer@test.ng", "", []string{user.RoleOfficer}, true)

	// an approved application plus a pending one for the same account
	approved := testutil.CreateApplication(t, appRepo, identityFor(applicant), testutil.ValidApplication(prog.ID, course.ID))
	if _, err := appRepo.UpdateStatus(context.Background(), approved.ID, application.StatusApproved); err != nil {
		t.Fatalf("UpdateStatus() failed: %v", err)
	}
	pending := testutil.CreateApplication(t, appRepo, identityFor(applicant), testutil.ValidApplication(prog.ID, course.ID))

	officerToken := getToken(t, officer)
	statusBody := func(status string) []byte {
		return marchallObj(t, echoapi.UpdateStatusRequest{Status: status})
	}

	tests := []httpTest{
		{
			name: "Auth required", path: "/v1/applications/" + pending.ID + "/status",
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken),
		},
		{
			name: "Staff required", path: "/v1/applications/" + pending.ID + "/status", token: getToken(t, applicant),
			body: statusBody(application.StatusApproved), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "required fields", path: "/v1/applications/" + pending.ID + "/status", token: officerToken,
			body: statusBody(""), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"status": "this field is required"}),
		},
		{
			name: "invalid status", path: "/v1/applications/" + pending.ID + "/status", token: officerToken,
			body: statusBody("lol"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"status": "must be one of: pending, approved, rejected"}),
		},
		{
			name: "unknown application", path: "/v1/applications/lol/status", token: officerToken,
			body: statusBody(application.StatusApproved), wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{
			name: "reopening duplicates a pending application", path: "/v1/applications/" + approved.ID + "/status", token: officerToken,
			body: statusBody(application.StatusPending), wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: "an application is already pending review for this account"}),
		},
		{
			name: "approved", path: "/v1/applications/" + pending.ID + "/status", token: officerToken,
			body: statusBody(application.StatusApproved), wantCode: http.StatusOK,
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPut

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusOK {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				var sub application.Submission
				if err := json.Unmarshal(rec.Body.Bytes(), &sub); err != nil {
					t.Fatalf("json.Unmarshal() failed! err %v", err)
				}
				if sub.ID != pending.ID {
					t.Errorf("failed! id = %v; want %v", sub.ID, pending.ID)
				}
				if sub.Status != application.StatusApproved {
					t.Errorf("failed! status = %v; want %v", sub.Status, application.StatusApproved)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}
