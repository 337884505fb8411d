package mockapi

import "github.com/scribblesense/scribblesense/internal/language"

// extractedTexts are returned by the OCR endpoint, one per language.
var extractedTexts = map[language.Language]string{
	language.English: "In the bustling marketplace of ideas, education stands as the cornerstone of human progress. ScribbleSense represents a revolutionary approach to multilingual learning, where technology meets tradition in perfect harmony.\n\nThis handwritten note discusses the importance of accessible education in multiple languages. The integration of AI-powered tools helps bridge the gap between different linguistic communities, making learning more inclusive and effective.\n\nKey points covered:\n• Grammar correction across languages\n• Voice-to-text transcription\n• Real-time feedback systems\n• Cultural sensitivity in language learning\n\nThe future of education lies in embracing diversity while maintaining quality standards.",
	language.Hindi:   "महत्वपूर्ण नोट्स:\n\nभाषा सीखना एक कला है जो धैर्य और अभ्यास से आती है। ScribbleSense का उपयोग करते समय निम्नलिखित बातों का ध्यान रखें:\n\n1. नियमित अभ्यास करें\n2. व्याकरण की जांच करें\n3. उच्चारण पर ध्यान दें\n4. विभिन्न भाषाओं में लिखने का अभ्यास करें\n\nयह तकनीक हमारी भाषा सीखने की प्रक्रिया को बेहतर बनाती है।",
	language.Punjabi: "ਪੰਜਾਬੀ ਭਾਸ਼ਾ ਦੇ ਮਹੱਤਵਪੂਰਣ ਨੋਟਸ:\n\nਭਾਸ਼ਾ ਸਿੱਖਣ ਵਿੱਚ ਤਕਨਾਲੋਜੀ ਦਾ ਵਰਤੋਂ ਬਹੁਤ ਫਾਇਦੇਮੰਦ ਹੈ। ScribbleSense ਸਾਡੀ ਮਦਦ ਕਰਦਾ ਹੈ:\n\n• ਗਲਤੀਆਂ ਸੁਧਾਰਨ ਵਿੱਚ\n• ਆਵਾਜ਼ ਨੂੰ ਲਿਖਤ ਵਿੱਚ ਬਦਲਣ ਵਿੱਚ\n• ਵਿਆਕਰਣ ਸਿੱਖਣ ਵਿੱਚ\n\nਇਹ ਸਾਧਨ ਸਾਡੇ ਲਈ ਬਹੁਤ ਮਦਦਗਾਰ ਹੈ।",
}

// transcriptions are returned by the speech endpoint, one per language.
var transcriptions = map[language.Language]string{
	language.English: "Hello, this is a sample transcription of your English speech. The AI has converted your voice to text successfully.",
	language.Hindi:   "नमस्ते, यह आपके हिंदी भाषण का एक नमूना प्रतिलेखन है। AI ने आपकी आवाज़ को सफलतापूर्वक टेक्स्ट में बदल दिया है।",
	language.Punjabi: "ਸਤ ਸ੍ਰੀ ਅਕਾਲ, ਇਹ ਤੁਹਾਡੇ ਪੰਜਾਬੀ ਭਾਸ਼ਣ ਦਾ ਇੱਕ ਨਮੂਨਾ ਪ੍ਰਤਿਲੇਖਨ ਹੈ। AI ਨੇ ਤੁਹਾਡੀ ਆਵਾਜ਼ ਨੂੰ ਸਫਲਤਾਪੂਰਵਕ ਟੈਕਸਟ ਵਿੱਚ ਬਦਲ ਦਿੱਤਾ ਹੈ।",
}
