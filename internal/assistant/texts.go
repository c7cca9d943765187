package assistant

// User-visible strings. Clients match on some of them, keep them stable.
const (
	WelcomeText = "Hello! I'm Echo, your civic assistant with access to real-time Maps and Search. I can help you:\n\n" +
		"• Find nearby government offices, police stations, hospitals\n" +
		"• Get pincode information and authority contacts\n" +
		"• Answer questions about civic procedures\n" +
		"• File complaints about local issues\n\n" +
		"How can I help you today?"

	ResetWelcomeText = "Hello! I'm Echo, your civic assistant. How can I help you today?"

	ApologyText = "I'm sorry, I'm having trouble right now. Please try again in a moment."

	ImagePlaceholderText = "📷 [Image]"

	NotAnImageWarning = "Please upload an image file"

	fileComplaintText = "Great! I'll open the complaint form for you. You can describe your issue, add photos, and select the location."

	locateRequestText = "I'm requesting your location to help show nearby issues and relevant authorities."
	locateKnownFormat = "I can see you're near coordinates %.4f, %.4f. This helps me provide more relevant assistance!"
	locateDeniedText  = "Please allow location access in your browser so I can provide location-specific help."

	pincodeFoundFormat = "Here are the details for pincode %s:\n\n🏢 Office: %s\n📞 Contact: %s\n🏙️ City: %s\n\n" +
		"I've also centered the map on this area for you."
	pincodeUnknownFormat = "Sorry, I don't have information for pincode %s yet. " +
		"I currently support major cities like Mumbai, Delhi, Bangalore, Chennai, Hyderabad, Kolkata, and Pune."

	pincodeLookupStartFormat  = "Let me look up the pincode for %s..."
	pincodeLookupResultFormat = "The pincode for %s is likely %s. If you'd like authority details for this area, just send me the pincode!"

	unknownActionText = "I'm not sure how to handle that request, but I'm here to help with civic issues!"
	actionErrorText   = "Sorry, I encountered an error while processing that request. Please try again."
)
