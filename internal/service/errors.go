package service

import "errors"

var (
	// ErrUserNotFound indicates the user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrProblemNotFound indicates the problem does not exist.
	ErrProblemNotFound = errors.New("problem not found")
	// ErrCategoryNotFound indicates the category does not exist.
	ErrCategoryNotFound = errors.New("category not found")
	// ErrSubmissionNotFound indicates the submission does not exist or belongs to someone else.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrSubmissionFileMissing indicates a referenced file was not part of the upload.
	ErrSubmissionFileMissing = errors.New("referenced file was not uploaded")
	// ErrConceptsNotFound indicates a category has no concepts.
	ErrConceptsNotFound = errors.New("no concepts for category")
	// ErrQuizNotFound indicates the concept quiz does not exist.
	ErrQuizNotFound = errors.New("concept quiz not found")
	// ErrFolderNotFound indicates the note folder does not exist.
	ErrFolderNotFound = errors.New("folder not found")
	// ErrFolderProtected indicates the folder is a favourites root or a common folder.
	ErrFolderProtected = errors.New("folder cannot be modified")
	// ErrFolderForbidden indicates the folder belongs to another user.
	ErrFolderForbidden = errors.New("folder belongs to another user")
	// ErrSystemFolder indicates problems cannot be filed into a system folder.
	ErrSystemFolder = errors.New("problems cannot be filed into system folders")
	// ErrInvalidFolderType indicates a folder type other than favourite or wrong note.
	ErrInvalidFolderType = errors.New("invalid folder type")
	// ErrUserProblemNotFound indicates the user has no record for the problem.
	ErrUserProblemNotFound = errors.New("problem record not found")
	// ErrNoteNotFound indicates no handwriting was stored for the problem.
	ErrNoteNotFound = errors.New("note content not found")
	// ErrReportNotFound indicates the user has no report yet.
	ErrReportNotFound = errors.New("report not found")
	// ErrInvalidToken indicates a refresh token that is malformed, expired or revoked.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrOAuthExchange indicates the identity provider rejected the authorization code.
	ErrOAuthExchange = errors.New("oauth exchange failed")
	// ErrOAuthDisabled indicates Google sign-in is not configured.
	ErrOAuthDisabled = errors.New("oauth sign-in is not configured")
)
