package transition

import "github.com/roach88/flowguard/internal/domain"

// The tables below are indexed by state. This function stops compiling when a
// state is added to or removed from an enum; update the tables, the forbidden
// list and the pairings before adjusting the counts.
func _() {
	var x [1]struct{}
	_ = x[domain.NumPaymentStates-6]
	_ = x[domain.NumSessionStates-12]
	_ = x[domain.NumVideoStates-4]
	_ = x[domain.NumRefundStates-5]
}

var paymentTable = [domain.NumPaymentStates][]domain.PaymentState{
	domain.PaymentPending:   {domain.PaymentInitiated, domain.PaymentCancelled},
	domain.PaymentInitiated: {domain.PaymentConfirmed, domain.PaymentFailed, domain.PaymentCancelled},
	domain.PaymentConfirmed: {domain.PaymentRefunded},
	domain.PaymentFailed:    {domain.PaymentInitiated, domain.PaymentCancelled},
	domain.PaymentRefunded:  {},
	domain.PaymentCancelled: {},
}

var sessionTable = [domain.NumSessionStates][]domain.SessionState{
	domain.SessionRequested:       {domain.SessionApproved, domain.SessionDeclined, domain.SessionCancelled},
	domain.SessionApproved:        {domain.SessionPaymentPending, domain.SessionCancelled},
	domain.SessionDeclined:        {},
	domain.SessionPaymentPending:  {domain.SessionPaid, domain.SessionCancelled},
	domain.SessionPaid:            {domain.SessionFormsRequired, domain.SessionReady, domain.SessionCancelled},
	domain.SessionFormsRequired:   {domain.SessionReady, domain.SessionCancelled},
	domain.SessionReady:           {domain.SessionInProgress, domain.SessionCancelled, domain.SessionNoShowClient, domain.SessionNoShowTherapist},
	domain.SessionInProgress:      {domain.SessionCompleted, domain.SessionCancelled},
	domain.SessionCompleted:       {},
	domain.SessionCancelled:       {},
	domain.SessionNoShowClient:    {},
	domain.SessionNoShowTherapist: {},
}

var videoTable = [domain.NumVideoStates][]domain.VideoState{
	domain.VideoNotStarted:             {domain.VideoWaitingForParticipants},
	domain.VideoWaitingForParticipants: {domain.VideoActive, domain.VideoEnded},
	domain.VideoActive:                 {domain.VideoEnded},
	domain.VideoEnded:                  {},
}

var refundTable = [domain.NumRefundStates][]domain.RefundState{
	domain.RefundNone:          {domain.RefundRequested},
	domain.RefundRequested:     {domain.RefundProcessing, domain.RefundPendingManual},
	domain.RefundProcessing:    {domain.RefundCompleted, domain.RefundPendingManual},
	domain.RefundPendingManual: {domain.RefundProcessing, domain.RefundCompleted},
	domain.RefundCompleted:     {},
}

// Category classifies a forbidden transition.
type Category string

const (
	CategoryPaymentBypass        Category = "payment_bypass"
	CategoryFormBypass           Category = "form_bypass"
	CategoryRetroactiveDowngrade Category = "retroactive_downgrade"
	CategoryUnpaidVideoAccess    Category = "unpaid_video_access"
	CategoryRefundBypass         Category = "refund_bypass"
)

type forbidden[S ~uint8] struct {
	From, To S
	Category Category
}

var forbiddenPayment = []forbidden[domain.PaymentState]{
	{domain.PaymentPending, domain.PaymentConfirmed, CategoryPaymentBypass},
	{domain.PaymentFailed, domain.PaymentConfirmed, CategoryPaymentBypass},
	{domain.PaymentCancelled, domain.PaymentConfirmed, CategoryPaymentBypass},
	{domain.PaymentConfirmed, domain.PaymentPending, CategoryRetroactiveDowngrade},
	{domain.PaymentConfirmed, domain.PaymentInitiated, CategoryRetroactiveDowngrade},
	{domain.PaymentConfirmed, domain.PaymentFailed, CategoryRetroactiveDowngrade},
	{domain.PaymentRefunded, domain.PaymentConfirmed, CategoryRetroactiveDowngrade},
}

var forbiddenSession = []forbidden[domain.SessionState]{
	{domain.SessionRequested, domain.SessionPaid, CategoryPaymentBypass},
	{domain.SessionApproved, domain.SessionPaid, CategoryPaymentBypass},
	{domain.SessionRequested, domain.SessionReady, CategoryPaymentBypass},
	{domain.SessionApproved, domain.SessionReady, CategoryPaymentBypass},
	{domain.SessionPaymentPending, domain.SessionFormsRequired, CategoryPaymentBypass},
	{domain.SessionPaymentPending, domain.SessionReady, CategoryPaymentBypass},
	{domain.SessionPaymentPending, domain.SessionInProgress, CategoryPaymentBypass},
	{domain.SessionPaid, domain.SessionInProgress, CategoryFormBypass},
	{domain.SessionFormsRequired, domain.SessionInProgress, CategoryFormBypass},
	{domain.SessionPaid, domain.SessionPaymentPending, CategoryRetroactiveDowngrade},
	{domain.SessionReady, domain.SessionPaymentPending, CategoryRetroactiveDowngrade},
	{domain.SessionCompleted, domain.SessionInProgress, CategoryRetroactiveDowngrade},
	{domain.SessionCancelled, domain.SessionPaid, CategoryRetroactiveDowngrade},
}

var forbiddenVideo = []forbidden[domain.VideoState]{
	{domain.VideoNotStarted, domain.VideoActive, CategoryUnpaidVideoAccess},
	{domain.VideoEnded, domain.VideoActive, CategoryUnpaidVideoAccess},
	{domain.VideoEnded, domain.VideoWaitingForParticipants, CategoryUnpaidVideoAccess},
}

var forbiddenRefund = []forbidden[domain.RefundState]{
	{domain.RefundNone, domain.RefundCompleted, CategoryRefundBypass},
	{domain.RefundCompleted, domain.RefundProcessing, CategoryRefundBypass},
}
